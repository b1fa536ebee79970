package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"portfolio/internal/auth"
	apperrors "portfolio/internal/errors"
	"portfolio/internal/metrics"
	"portfolio/internal/model"
	"portfolio/internal/repository"
)

var errOutage = errors.New("dial tcp 127.0.0.1:3306: connection refused")

func newTestAuthService(users repository.UserRepository, tokens repository.RefreshTokenRepository) *authService {
	return NewAuthService(AuthServiceDeps{
		Users:           users,
		Tokens:          tokens,
		JWT:             auth.NewJWTService("test-secret", 15*time.Minute),
		Hasher:          auth.NewPasswordHasher(bcrypt.MinCost),
		Fingerprinter:   auth.NewFingerprinter("refresh-secret"),
		Metrics:         metrics.New(),
		RefreshTokenTTL: 7 * 24 * time.Hour,
	}).(*authService)
}

func hashed(t *testing.T, password string) string {
	t.Helper()
	h, err := auth.NewPasswordHasher(bcrypt.MinCost).Hash(password)
	require.NoError(t, err)
	return h
}

func TestAuthService_Signup(t *testing.T) {
	tests := []struct {
		name          string
		email         string
		setupMock     func(*MockUserRepository)
		expectedError error
	}{
		{
			name:  "successful signup",
			email: "Test@Example.com ",
			setupMock: func(m *MockUserRepository) {
				m.On("FindByEmail", mock.Anything, "test@example.com").Return(nil, repository.ErrNotFound)
				m.On("Create", mock.Anything, mock.AnythingOfType("*model.User")).Return(nil)
			},
		},
		{
			name:  "email already taken",
			email: "existing@example.com",
			setupMock: func(m *MockUserRepository) {
				m.On("FindByEmail", mock.Anything, "existing@example.com").Return(&model.User{ID: 3, Email: "existing@example.com"}, nil)
			},
			expectedError: apperrors.ErrConflict,
		},
		{
			name:  "lost insert race",
			email: "race@example.com",
			setupMock: func(m *MockUserRepository) {
				m.On("FindByEmail", mock.Anything, "race@example.com").Return(nil, repository.ErrNotFound)
				m.On("Create", mock.Anything, mock.Anything).Return(repository.ErrDuplicate)
			},
			expectedError: apperrors.ErrConflict,
		},
		{
			name:  "store outage",
			email: "down@example.com",
			setupMock: func(m *MockUserRepository) {
				m.On("FindByEmail", mock.Anything, "down@example.com").Return(nil, errOutage)
			},
			expectedError: apperrors.ErrInternal,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockRepo := new(MockUserRepository)
			tt.setupMock(mockRepo)

			svc := newTestAuthService(mockRepo, new(MockRefreshTokenRepository))
			user, err := svc.Signup(context.Background(), tt.email, "password123", "Test User")

			if tt.expectedError != nil {
				assert.ErrorIs(t, err, tt.expectedError)
				assert.Nil(t, user)
			} else {
				require.NoError(t, err)
				assert.Equal(t, "test@example.com", user.Email)
				assert.Equal(t, "Test User", user.Username)
				assert.Equal(t, model.RoleUser, user.Role)
				assert.False(t, user.IsGuest)
				assert.NotEqual(t, "password123", user.PasswordHash)
			}

			mockRepo.AssertExpectations(t)
		})
	}
}

func TestAuthService_Signup_ConflictDoesNotWrite(t *testing.T) {
	mockRepo := new(MockUserRepository)
	mockRepo.On("FindByEmail", mock.Anything, "a@example.com").Return(&model.User{ID: 1}, nil)

	svc := newTestAuthService(mockRepo, new(MockRefreshTokenRepository))
	_, err := svc.Signup(context.Background(), "a@example.com", "pw", "a")

	assert.ErrorIs(t, err, apperrors.ErrConflict)
	mockRepo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

func TestAuthService_OverlongPasswordIsInvalidInput(t *testing.T) {
	// 72 characters but 216 bytes
	password := strings.Repeat("€", 72)

	t.Run("signup", func(t *testing.T) {
		mockRepo := new(MockUserRepository)
		mockRepo.On("FindByEmail", mock.Anything, "long@example.com").Return(nil, repository.ErrNotFound)
		svc := newTestAuthService(mockRepo, new(MockRefreshTokenRepository))

		user, err := svc.Signup(context.Background(), "long@example.com", password, "")

		assert.Nil(t, user)
		assert.ErrorIs(t, err, apperrors.ErrPasswordTooLong)
		assert.NotErrorIs(t, err, apperrors.ErrInternal)
		mockRepo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
	})

	t.Run("change password", func(t *testing.T) {
		mockRepo := new(MockUserRepository)
		mockRepo.On("FindByID", mock.Anything, uint(2)).Return(&model.User{ID: 2, PasswordHash: hashed(t, "old")}, nil)
		svc := newTestAuthService(mockRepo, new(MockRefreshTokenRepository))

		err := svc.ChangePassword(context.Background(), 2, "old", password)

		assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
		assert.NotErrorIs(t, err, apperrors.ErrInternal)
		mockRepo.AssertNotCalled(t, "UpdatePassword", mock.Anything, mock.Anything, mock.Anything)
	})
}

func TestAuthService_ValidateUser(t *testing.T) {
	stored := &model.User{ID: 4, Email: "ada@example.com", PasswordHash: hashed(t, "right"), Role: model.RoleUser}

	tests := []struct {
		name      string
		password  string
		setupMock func(*MockUserRepository)
		wantUser  bool
		wantErr   error
	}{
		{
			name:     "correct password",
			password: "right",
			setupMock: func(m *MockUserRepository) {
				m.On("FindByEmail", mock.Anything, "ada@example.com").Return(stored, nil)
			},
			wantUser: true,
		},
		{
			name:     "wrong password",
			password: "wrong",
			setupMock: func(m *MockUserRepository) {
				m.On("FindByEmail", mock.Anything, "ada@example.com").Return(stored, nil)
			},
		},
		{
			name:     "unknown email",
			password: "right",
			setupMock: func(m *MockUserRepository) {
				m.On("FindByEmail", mock.Anything, "ada@example.com").Return(nil, repository.ErrNotFound)
			},
		},
		{
			name:     "store outage",
			password: "right",
			setupMock: func(m *MockUserRepository) {
				m.On("FindByEmail", mock.Anything, "ada@example.com").Return(nil, errOutage)
			},
			wantErr: apperrors.ErrInternal,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockRepo := new(MockUserRepository)
			tt.setupMock(mockRepo)
			svc := newTestAuthService(mockRepo, new(MockRefreshTokenRepository))

			user, err := svc.ValidateUser(context.Background(), "ada@example.com", tt.password)

			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tt.wantUser, user != nil)
		})
	}
}

func TestAuthService_Login(t *testing.T) {
	tests := []struct {
		name          string
		setupMock     func(*MockUserRepository, *MockRefreshTokenRepository)
		expectedError error
	}{
		{
			name: "successful login",
			setupMock: func(mRepo *MockUserRepository, mTokens *MockRefreshTokenRepository) {
				mRepo.On("FindByEmail", mock.Anything, "test@example.com").Return(&model.User{
					ID: 9, Email: "test@example.com", PasswordHash: hashed(t, "password123"), Role: model.RoleUser,
				}, nil)
				mTokens.On("Create", mock.Anything, mock.MatchedBy(func(rt *model.RefreshToken) bool {
					return rt.UserID == 9 && len(rt.TokenHash) == 64
				})).Return(nil)
			},
		},
		{
			name: "invalid credentials",
			setupMock: func(mRepo *MockUserRepository, mTokens *MockRefreshTokenRepository) {
				mRepo.On("FindByEmail", mock.Anything, "test@example.com").Return(nil, repository.ErrNotFound)
			},
			expectedError: apperrors.ErrInvalidCredential,
		},
		{
			name: "token store outage",
			setupMock: func(mRepo *MockUserRepository, mTokens *MockRefreshTokenRepository) {
				mRepo.On("FindByEmail", mock.Anything, "test@example.com").Return(&model.User{
					ID: 9, Email: "test@example.com", PasswordHash: hashed(t, "password123"), Role: model.RoleUser,
				}, nil)
				mTokens.On("Create", mock.Anything, mock.Anything).Return(errOutage)
			},
			expectedError: apperrors.ErrInternal,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockRepo := new(MockUserRepository)
			mockTokens := new(MockRefreshTokenRepository)
			tt.setupMock(mockRepo, mockTokens)
			svc := newTestAuthService(mockRepo, mockTokens)

			pair, user, err := svc.Login(context.Background(), "test@example.com", "password123")

			if tt.expectedError != nil {
				assert.ErrorIs(t, err, tt.expectedError)
				assert.Nil(t, pair)
				assert.Nil(t, user)
			} else {
				require.NoError(t, err)
				assert.NotEmpty(t, pair.AccessToken)
				assert.NotEmpty(t, pair.RefreshToken)
				assert.Equal(t, uint(9), user.ID)

				claims, err := svc.jwtService.ParseAccessToken(pair.AccessToken)
				require.NoError(t, err)
				assert.Equal(t, uint(9), claims.Subject)
			}

			mockRepo.AssertExpectations(t)
			mockTokens.AssertExpectations(t)
		})
	}
}

func TestAuthService_IssueRefreshToken(t *testing.T) {
	t.Run("missing user", func(t *testing.T) {
		mockRepo := new(MockUserRepository)
		mockRepo.On("FindByID", mock.Anything, uint(5)).Return(nil, repository.ErrNotFound)
		svc := newTestAuthService(mockRepo, new(MockRefreshTokenRepository))

		_, _, err := svc.IssueRefreshToken(context.Background(), 5)
		assert.ErrorIs(t, err, apperrors.ErrNotFound)
	})

	t.Run("stores fingerprint not raw token", func(t *testing.T) {
		mockRepo := new(MockUserRepository)
		mockTokens := new(MockRefreshTokenRepository)
		mockRepo.On("FindByID", mock.Anything, uint(5)).Return(&model.User{ID: 5}, nil)
		var stored *model.RefreshToken
		mockTokens.On("Create", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
			stored = args.Get(1).(*model.RefreshToken)
		}).Return(nil)
		svc := newTestAuthService(mockRepo, mockTokens)

		raw, exp, err := svc.IssueRefreshToken(context.Background(), 5)
		require.NoError(t, err)
		require.NotNil(t, stored)
		assert.NotEqual(t, raw, stored.TokenHash)
		assert.Equal(t, svc.fingerprinter.Fingerprint(raw), stored.TokenHash)
		assert.WithinDuration(t, time.Now().Add(7*24*time.Hour), exp, time.Minute)
	})
}

func TestAuthService_RotateRefreshToken_Failures(t *testing.T) {
	fp := auth.NewFingerprinter("refresh-secret")
	hash := fp.Fingerprint("tok")

	tests := []struct {
		name      string
		setupMock func(*MockUserRepository, *MockRefreshTokenRepository)
		wantErr   error
	}{
		{
			name: "unknown token",
			setupMock: func(u *MockUserRepository, r *MockRefreshTokenRepository) {
				r.On("FindByHash", mock.Anything, hash).Return(nil, repository.ErrNotFound)
			},
			wantErr: apperrors.ErrInvalidRefreshToken,
		},
		{
			name: "expired token is deleted",
			setupMock: func(u *MockUserRepository, r *MockRefreshTokenRepository) {
				r.On("FindByHash", mock.Anything, hash).Return(&model.RefreshToken{TokenHash: hash, UserID: 1, ExpiresAt: time.Now().Add(-time.Minute)}, nil)
				r.On("DeleteByHash", mock.Anything, hash).Return(int64(1), nil)
			},
			wantErr: apperrors.ErrRefreshTokenExpired,
		},
		{
			name: "owner deleted",
			setupMock: func(u *MockUserRepository, r *MockRefreshTokenRepository) {
				r.On("FindByHash", mock.Anything, hash).Return(&model.RefreshToken{TokenHash: hash, UserID: 1, ExpiresAt: time.Now().Add(time.Hour)}, nil)
				u.On("FindByID", mock.Anything, uint(1)).Return(nil, repository.ErrNotFound)
				r.On("DeleteByHash", mock.Anything, hash).Return(int64(1), nil)
			},
			wantErr: apperrors.ErrInvalidRefreshToken,
		},
		{
			name: "lost rotation race",
			setupMock: func(u *MockUserRepository, r *MockRefreshTokenRepository) {
				r.On("FindByHash", mock.Anything, hash).Return(&model.RefreshToken{TokenHash: hash, UserID: 1, ExpiresAt: time.Now().Add(time.Hour)}, nil)
				u.On("FindByID", mock.Anything, uint(1)).Return(&model.User{ID: 1, Role: model.RoleUser}, nil)
				r.On("Rotate", mock.Anything, hash, mock.Anything).Return(repository.ErrNotFound)
			},
			wantErr: apperrors.ErrUnauthorized,
		},
		{
			name: "store outage",
			setupMock: func(u *MockUserRepository, r *MockRefreshTokenRepository) {
				r.On("FindByHash", mock.Anything, hash).Return(nil, errOutage)
			},
			wantErr: apperrors.ErrInternal,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockRepo := new(MockUserRepository)
			mockTokens := new(MockRefreshTokenRepository)
			tt.setupMock(mockRepo, mockTokens)
			svc := newTestAuthService(mockRepo, mockTokens)

			pair, user, err := svc.RotateRefreshToken(context.Background(), "tok")

			assert.ErrorIs(t, err, tt.wantErr)
			assert.Nil(t, pair)
			assert.Nil(t, user)
			mockRepo.AssertExpectations(t)
			mockTokens.AssertExpectations(t)
		})
	}
}

func TestAuthService_RotateRefreshToken_Empty(t *testing.T) {
	svc := newTestAuthService(new(MockUserRepository), new(MockRefreshTokenRepository))
	_, _, err := svc.RotateRefreshToken(context.Background(), "")
	assert.ErrorIs(t, err, apperrors.ErrUnauthorized)
}

func TestAuthService_ChangePassword(t *testing.T) {
	tests := []struct {
		name      string
		current   string
		setupMock func(*MockUserRepository)
		wantErr   error
	}{
		{
			name:    "updated",
			current: "old",
			setupMock: func(m *MockUserRepository) {
				m.On("FindByID", mock.Anything, uint(2)).Return(&model.User{ID: 2, PasswordHash: hashed(t, "old")}, nil)
				m.On("UpdatePassword", mock.Anything, uint(2), mock.AnythingOfType("string")).Return(nil)
			},
		},
		{
			name:    "wrong current password",
			current: "nope",
			setupMock: func(m *MockUserRepository) {
				m.On("FindByID", mock.Anything, uint(2)).Return(&model.User{ID: 2, PasswordHash: hashed(t, "old")}, nil)
			},
			wantErr: apperrors.ErrInvalidCredential,
		},
		{
			name:    "missing user",
			current: "old",
			setupMock: func(m *MockUserRepository) {
				m.On("FindByID", mock.Anything, uint(2)).Return(nil, repository.ErrNotFound)
			},
			wantErr: apperrors.ErrNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockRepo := new(MockUserRepository)
			tt.setupMock(mockRepo)
			svc := newTestAuthService(mockRepo, new(MockRefreshTokenRepository))

			err := svc.ChangePassword(context.Background(), 2, tt.current, "new-password")

			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				mockRepo.AssertNotCalled(t, "UpdatePassword", mock.Anything, mock.Anything, mock.Anything)
			} else {
				assert.NoError(t, err)
			}
			mockRepo.AssertExpectations(t)
		})
	}
}

func TestAuthService_ChangePassword_Message(t *testing.T) {
	mockRepo := new(MockUserRepository)
	mockRepo.On("FindByID", mock.Anything, uint(2)).Return(&model.User{ID: 2, PasswordHash: hashed(t, "old")}, nil)
	svc := newTestAuthService(mockRepo, new(MockRefreshTokenRepository))

	err := svc.ChangePassword(context.Background(), 2, "nope", "x")
	assert.Contains(t, err.Error(), "current password is incorrect")
}

func TestAuthService_DeleteUser_TokensFirst(t *testing.T) {
	mockRepo := new(MockUserRepository)
	mockTokens := new(MockRefreshTokenRepository)

	var order []string
	mockTokens.On("DeleteAllForUser", mock.Anything, uint(3)).Run(func(mock.Arguments) {
		order = append(order, "tokens")
	}).Return(int64(2), nil)
	mockRepo.On("Delete", mock.Anything, uint(3)).Run(func(mock.Arguments) {
		order = append(order, "user")
	}).Return(nil)

	svc := newTestAuthService(mockRepo, mockTokens)
	require.NoError(t, svc.DeleteUser(context.Background(), 3))
	assert.Equal(t, []string{"tokens", "user"}, order)
}

func TestAuthService_DeleteUser_Missing(t *testing.T) {
	mockRepo := new(MockUserRepository)
	mockTokens := new(MockRefreshTokenRepository)
	mockTokens.On("DeleteAllForUser", mock.Anything, uint(3)).Return(int64(0), nil)
	mockRepo.On("Delete", mock.Anything, uint(3)).Return(repository.ErrNotFound)

	svc := newTestAuthService(mockRepo, mockTokens)
	assert.ErrorIs(t, svc.DeleteUser(context.Background(), 3), apperrors.ErrNotFound)
}

func TestAuthService_PromoteToAdmin(t *testing.T) {
	tests := []struct {
		name      string
		setupMock func(*MockUserRepository)
		wantErr   error
	}{
		{
			name: "promoted",
			setupMock: func(m *MockUserRepository) {
				m.On("FindByID", mock.Anything, uint(6)).Return(&model.User{ID: 6, Role: model.RoleUser}, nil)
				m.On("UpdateRole", mock.Anything, uint(6), model.RoleAdmin).Return(nil)
			},
		},
		{
			name: "already admin",
			setupMock: func(m *MockUserRepository) {
				m.On("FindByID", mock.Anything, uint(6)).Return(&model.User{ID: 6, Role: model.RoleAdmin}, nil)
			},
		},
		{
			name: "guest",
			setupMock: func(m *MockUserRepository) {
				m.On("FindByID", mock.Anything, uint(6)).Return(&model.User{ID: 6, Role: model.RoleUser, IsGuest: true}, nil)
			},
			wantErr: apperrors.ErrForbidden,
		},
		{
			name: "missing",
			setupMock: func(m *MockUserRepository) {
				m.On("FindByID", mock.Anything, uint(6)).Return(nil, repository.ErrNotFound)
			},
			wantErr: apperrors.ErrNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockRepo := new(MockUserRepository)
			tt.setupMock(mockRepo)
			svc := newTestAuthService(mockRepo, new(MockRefreshTokenRepository))

			err := svc.PromoteToAdmin(context.Background(), 6)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				assert.NoError(t, err)
			}
			mockRepo.AssertExpectations(t)
		})
	}
}

func TestAuthService_RevokeRefreshToken(t *testing.T) {
	mockTokens := new(MockRefreshTokenRepository)
	svc := newTestAuthService(new(MockUserRepository), mockTokens)
	hash := svc.fingerprinter.Fingerprint("tok")

	mockTokens.On("DeleteByHash", mock.Anything, hash).Return(int64(1), nil).Once()
	mockTokens.On("DeleteByHash", mock.Anything, hash).Return(int64(0), nil).Once()

	revoked, err := svc.RevokeRefreshToken(context.Background(), "tok")
	require.NoError(t, err)
	assert.True(t, revoked)

	revoked, err = svc.RevokeRefreshToken(context.Background(), "tok")
	require.NoError(t, err)
	assert.False(t, revoked)

	revoked, err = svc.RevokeRefreshToken(context.Background(), "")
	require.NoError(t, err)
	assert.False(t, revoked)
	mockTokens.AssertExpectations(t)
}

func TestAuthService_PurgeExpiredRefreshTokens(t *testing.T) {
	mockTokens := new(MockRefreshTokenRepository)
	mockTokens.On("DeleteExpired", mock.Anything, mock.AnythingOfType("time.Time")).Return(int64(3), nil)
	svc := newTestAuthService(new(MockUserRepository), mockTokens)

	n, err := svc.PurgeExpiredRefreshTokens(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}
