package auth

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markethub/livecommerce/internal/models"
)

func seller() *models.User {
	return &models.User{ID: uuid.New(), Email: "ana@loja.com", Role: models.RoleSeller, StoreName: "Loja da Ana"}
}

func TestGenerateValidate(t *testing.T) {
	svc := NewJWTService("secret", 1)
	u := seller()
	token, err := svc.Generate(u)
	require.NoError(t, err)

	claims, err := svc.Validate(token)
	require.NoError(t, err)
	assert.Equal(t, u.ID, claims.UserID)
	assert.Equal(t, models.RoleSeller, claims.Role)
	assert.Equal(t, "Loja da Ana", claims.StoreName)

	id, role, err := svc.ValidateIdentity(token)
	require.NoError(t, err)
	assert.Equal(t, u.ID.String(), id)
	assert.Equal(t, "seller", role)
}

func TestValidateRejects(t *testing.T) {
	svc := NewJWTService("secret", 1)
	token, err := svc.Generate(seller())
	require.NoError(t, err)

	_, err = NewJWTService("other", 1).Validate(token)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = svc.Validate("not-a-token")
	assert.ErrorIs(t, err, ErrInvalidToken)

	expired := NewJWTService("secret", 1)
	expired.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	old, err := expired.Generate(seller())
	require.NoError(t, err)
	_, err = svc.Validate(old)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestPassword(t *testing.T) {
	hash, err := HashPassword("s3cret!")
	require.NoError(t, err)
	assert.NotEqual(t, "s3cret!", hash)
	assert.True(t, CheckPassword("s3cret!", hash))
	assert.False(t, CheckPassword("wrong", hash))
}
