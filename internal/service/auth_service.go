package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/serviapp/escrow-backend/internal/models"
	"github.com/serviapp/escrow-backend/internal/pkg/apperror"
)

// AuthRepository описывает зависимости AuthService от слоя хранилища.
type AuthRepository interface {
	Create(ctx context.Context, user *models.User) error
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	GetByID(ctx context.Context, id uuid.UUID) (*models.User, error)
	GetStats(ctx context.Context, userID uuid.UUID) (*models.ProfessionalStats, error)
	SaveRefreshSession(ctx context.Context, userID uuid.UUID, tokenHash string, expiresAt time.Time) error
	HasRefreshSession(ctx context.Context, userID uuid.UUID, tokenHash string) (bool, error)
	DeleteRefreshSessions(ctx context.Context, userID uuid.UUID) error
}

// AuthService инкапсулирует регистрацию и аутентификацию участников.
type AuthService struct {
	repo         AuthRepository
	tokenManager *TokenManager
}

// RegisterInput содержит данные пользователя при регистрации.
type RegisterInput struct {
	Email    string
	Password string
	Name     string
	Role     string
}

// AuthResult возвращает итог регистрации или авторизации.
type AuthResult struct {
	User      *models.User `json:"user"`
	TokenPair *TokenPair   `json:"tokens"`
}

// NewAuthService создаёт сервис аутентификации.
func NewAuthService(repo AuthRepository, tokenManager *TokenManager) *AuthService {
	return &AuthService{repo: repo, tokenManager: tokenManager}
}

// Register создаёт нового пользователя с ролью client или professional.
func (s *AuthService) Register(ctx context.Context, in RegisterInput) (*AuthResult, error) {
	email := strings.ToLower(strings.TrimSpace(in.Email))
	if email == "" || !strings.Contains(email, "@") {
		return nil, apperror.Validationf("некорректный email")
	}
	if len(in.Password) < 8 {
		return nil, apperror.Validationf("пароль должен быть не короче 8 символов")
	}
	if _, ok := models.ValidRoles[in.Role]; !ok {
		return nil, apperror.Validationf("недопустимая роль: %s", in.Role)
	}

	if _, err := s.repo.GetByEmail(ctx, email); err == nil {
		return nil, apperror.Validationf("email уже зарегистрирован")
	} else if !errors.Is(err, apperror.ErrUserNotFound) {
		return nil, err
	}

	passHash, err := bcrypt.GenerateFromPassword([]byte(in.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, apperror.Wrap(err, apperror.ErrCodeInternal, "не удалось захешировать пароль")
	}

	name := strings.TrimSpace(in.Name)
	if name == "" {
		name = strings.Split(email, "@")[0]
	}

	user := &models.User{
		Email:        email,
		PasswordHash: string(passHash),
		Name:         name,
		Role:         in.Role,
	}
	if err := s.repo.Create(ctx, user); err != nil {
		return nil, err
	}

	pair, err := s.issuePair(ctx, user)
	if err != nil {
		return nil, err
	}
	return &AuthResult{User: user, TokenPair: pair}, nil
}

// Login проверяет учётные данные и возвращает токены.
func (s *AuthService) Login(ctx context.Context, email, password string) (*AuthResult, error) {
	user, err := s.repo.GetByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		return nil, apperror.ErrInvalidCredentials
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, apperror.ErrInvalidCredentials
	}

	pair, err := s.issuePair(ctx, user)
	if err != nil {
		return nil, err
	}
	return &AuthResult{User: user, TokenPair: pair}, nil
}

// Refresh выпускает новую пару токенов по валидному refresh токену.
// Старые сессии пользователя инвалидируются.
func (s *AuthService) Refresh(ctx context.Context, oldToken string) (*TokenPair, error) {
	claims, err := s.tokenManager.ParseRefresh(oldToken)
	if err != nil {
		return nil, apperror.ErrUnauthorized
	}

	userID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return nil, apperror.ErrUnauthorized
	}

	known, err := s.repo.HasRefreshSession(ctx, userID, hashToken(oldToken))
	if err != nil {
		return nil, err
	}
	if !known {
		return nil, apperror.ErrUnauthorized
	}

	user, err := s.repo.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}

	if err := s.repo.DeleteRefreshSessions(ctx, userID); err != nil {
		return nil, err
	}
	return s.issuePair(ctx, user)
}

// Logout инвалидирует все refresh сессии пользователя.
func (s *AuthService) Logout(ctx context.Context, userID uuid.UUID) error {
	return s.repo.DeleteRefreshSessions(ctx, userID)
}

// Me возвращает профиль текущего пользователя, для исполнителя вместе со
// счётчиком завершённых сделок и текущим уровнем комиссии.
func (s *AuthService) Me(ctx context.Context, userID uuid.UUID) (*models.User, *models.ProfessionalStats, error) {
	user, err := s.repo.GetByID(ctx, userID)
	if err != nil {
		return nil, nil, err
	}
	if user.Role != models.RoleProfessional {
		return user, nil, nil
	}
	stats, err := s.repo.GetStats(ctx, userID)
	if err != nil {
		return nil, nil, err
	}
	return user, stats, nil
}

func (s *AuthService) issuePair(ctx context.Context, user *models.User) (*TokenPair, error) {
	pair, refreshExp, err := s.tokenManager.GeneratePair(user)
	if err != nil {
		return nil, apperror.Wrap(err, apperror.ErrCodeInternal, "не удалось выпустить токены")
	}
	if err := s.repo.SaveRefreshSession(ctx, user.ID, hashToken(pair.RefreshToken), refreshExp); err != nil {
		return nil, err
	}
	return pair, nil
}

// hashToken хранит в базе только хэш refresh токена.
func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
