package passes

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCodec_RoundTrip(t *testing.T) {
	codec := NewCodec("pass-secret")
	fixed := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	codec.now = func() time.Time { return fixed }

	for i := 0; i < 20; i++ {
		studentID, eventID := uuid.New(), uuid.New()
		token, err := codec.Issue(studentID, eventID)
		require.NoError(t, err)

		claim, err := codec.Verify(token)
		require.NoError(t, err)
		assert.Equal(t, studentID, claim.StudentID)
		assert.Equal(t, eventID, claim.EventID)
		assert.Equal(t, fixed.UnixMilli(), claim.IssuedAt)
	}
}

func TestCodec_IssueIsUniquePerCall(t *testing.T) {
	codec := NewCodec("pass-secret")
	studentID, eventID := uuid.New(), uuid.New()
	a, err := codec.Issue(studentID, eventID)
	require.NoError(t, err)
	b, err := codec.Issue(studentID, eventID)
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestCodec_SingleCharacterMutationRejected(t *testing.T) {
	codec := NewCodec("pass-secret")
	token, err := codec.Issue(uuid.New(), uuid.New())
	require.NoError(t, err)

	for i := range token {
		mutated := []byte(token)
		if mutated[i] == 'A' {
			mutated[i] = 'B'
		} else {
			mutated[i] = 'A'
		}
		_, err := codec.Verify(string(mutated))
		assert.ErrorIs(t, err, ErrInvalidToken, "mutation at index %d accepted", i)
	}
}

func TestCodec_RejectsForeignAndMalformed(t *testing.T) {
	codec := NewCodec("pass-secret")
	other := NewCodec("other-secret")

	foreign, err := other.Issue(uuid.New(), uuid.New())
	require.NoError(t, err)

	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, Claim{
		StudentID: uuid.New(),
		EventID:   uuid.New(),
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	missingIDs, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claim{IssuedAt: 1}).SignedString([]byte("pass-secret"))
	require.NoError(t, err)

	tests := map[string]string{
		"foreign secret": foreign,
		"alg none":       none,
		"missing ids":    missingIDs,
		"empty":          "",
		"garbage":        "not-a-token",
		"two segments":   "a.b",
	}
	for name, token := range tests {
		t.Run(name, func(t *testing.T) {
			claim, err := codec.Verify(token)
			assert.ErrorIs(t, err, ErrInvalidToken)
			assert.Nil(t, claim)
		})
	}
}

func TestCodec_IssueRejectsNilIDs(t *testing.T) {
	codec := NewCodec("pass-secret")
	_, err := codec.Issue(uuid.Nil, uuid.New())
	assert.ErrorIs(t, err, ErrInvalidToken)
}
