package storage

import (
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestValidateImageType(t *testing.T) {
	tests := []struct {
		contentType, filename string
		want                  bool
	}{
		{"image/png", "poster.png", true},
		{"", "poster.JPEG", true},
		{"application/octet-stream", "poster.webp", true},
		{"application/pdf", "poster.pdf", false},
		{"", "", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ValidateImageType(tt.contentType, tt.filename), "%s %s", tt.contentType, tt.filename)
	}
}

func TestPosterKey(t *testing.T) {
	id := uuid.New()
	key := PosterKey(id, "../../Fest.PNG")
	assert.True(t, strings.HasPrefix(key, "posters/"+id.String()+"/"))
	assert.True(t, strings.HasSuffix(key, ".png"))
	assert.NotContains(t, key, "..")
}

func TestKeyFromURL(t *testing.T) {
	s := &S3{cfg: S3Config{Region: "us-east-1", MediaBucket: "media"}}
	url := s.PublicObjectURL("posters/a/b.png")
	assert.Equal(t, "posters/a/b.png", s.KeyFromURL(url))
	assert.Equal(t, "", s.KeyFromURL("https://cdn.example.com/x.png"))
}

func TestContentTypeForFilename(t *testing.T) {
	assert.Equal(t, "image/png", ContentTypeForFilename("a.PNG"))
	assert.Equal(t, "application/octet-stream", ContentTypeForFilename("a.bin"))
}

func TestImageContentType(t *testing.T) {
	assert.Equal(t, "image/webp", ImageContentType("image/webp", "a.png"))
	assert.Equal(t, "image/png", ImageContentType("application/octet-stream", "a.png"))
}
