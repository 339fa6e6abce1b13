package staff

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/bristolpark/hmis/internal/platform/auth"
	"github.com/bristolpark/hmis/internal/platform/db"
)

const (
	passwordCost      = 10
	minPasswordLength = 8
)

var (
	ErrUsernameTaken      = errors.New("username already exists")
	ErrEmailTaken         = errors.New("email already exists")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInactive           = errors.New("account is inactive")
	ErrWrongPassword      = errors.New("current password is incorrect")
	ErrOwnAccount         = errors.New("cannot deactivate or delete your own account")
	ErrNoRevoker          = errors.New("logout is not available")
)

// TokenConfig controls the tokens issued at login.
type TokenConfig struct {
	SigningKey []byte
	Issuer     string
	TTL        time.Duration
}

type Service struct {
	repo    Repository
	tokens  TokenConfig
	revoker auth.Revoker
	now     func() time.Time
}

func NewService(repo Repository, tokens TokenConfig) *Service {
	return &Service{repo: repo, tokens: tokens, now: time.Now}
}

func (s *Service) SetRevoker(r auth.Revoker) { s.revoker = r }

func hashPassword(password string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(password), passwordCost)
	if err != nil {
		return "", fmt.Errorf("hashing password: %w", err)
	}
	return string(b), nil
}

func checkPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

func validatePassword(p string) error {
	if len(p) < minPasswordLength {
		return fmt.Errorf("password must be at least %d characters", minPasswordLength)
	}
	return nil
}

func (s *Service) session(u *User, message string) (*Session, error) {
	token, claims, err := auth.IssueToken(s.tokens.SigningKey, s.tokens.Issuer, s.tokens.TTL, u.ID.String(), auth.Claims{
		Username: u.Username,
		Role:     u.Role,
		BranchID: u.BranchID,
	})
	if err != nil {
		return nil, err
	}
	return &Session{Message: message, Token: token, ExpiresAt: claims.ExpiresAt.Time, User: u}, nil
}

// CreateUser adds an active account after checking username and email are
// free.
func (s *Service) CreateUser(ctx context.Context, in RegisterInput) (*User, error) {
	in.Username = strings.TrimSpace(in.Username)
	in.Email = strings.TrimSpace(in.Email)
	if in.Username == "" || in.Email == "" || in.Password == "" ||
		strings.TrimSpace(in.FirstName) == "" || strings.TrimSpace(in.LastName) == "" || in.Role == "" {
		return nil, fmt.Errorf("all fields are required")
	}
	if _, err := mail.ParseAddress(in.Email); err != nil {
		return nil, fmt.Errorf("invalid email: %s", in.Email)
	}
	if !auth.ValidRole(in.Role) {
		return nil, fmt.Errorf("invalid role: %s", in.Role)
	}
	if err := validatePassword(in.Password); err != nil {
		return nil, err
	}
	if _, err := s.repo.GetByUsername(ctx, in.Username); err == nil {
		return nil, ErrUsernameTaken
	} else if !db.IsNotFound(err) {
		return nil, err
	}
	if _, err := s.repo.GetByEmail(ctx, in.Email); err == nil {
		return nil, ErrEmailTaken
	} else if !db.IsNotFound(err) {
		return nil, err
	}

	hash, err := hashPassword(in.Password)
	if err != nil {
		return nil, err
	}
	if in.BranchID == 0 {
		in.BranchID = db.BranchFromContext(ctx)
	}
	u := &User{
		Username:     in.Username,
		Email:        in.Email,
		PasswordHash: hash,
		FirstName:    strings.TrimSpace(in.FirstName),
		LastName:     strings.TrimSpace(in.LastName),
		Role:         in.Role,
		Department:   in.Department,
		Phone:        in.Phone,
		BranchID:     in.BranchID,
		Active:       true,
	}
	if err := s.repo.Create(ctx, u); err != nil {
		if db.IsUniqueViolation(err) {
			return nil, ErrUsernameTaken
		}
		return nil, err
	}
	return u, nil
}

// Register creates an account and signs the new user in.
func (s *Service) Register(ctx context.Context, in RegisterInput) (*Session, error) {
	u, err := s.CreateUser(ctx, in)
	if err != nil {
		return nil, err
	}
	return s.session(u, "User registered successfully")
}

// Login checks credentials by username. Unknown users and wrong passwords
// get the same error.
func (s *Service) Login(ctx context.Context, username, password string) (*Session, error) {
	if strings.TrimSpace(username) == "" || password == "" {
		return nil, fmt.Errorf("username and password are required")
	}
	u, err := s.repo.GetByUsername(ctx, strings.TrimSpace(username))
	if err != nil {
		if db.IsNotFound(err) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if !u.Active {
		return nil, ErrInactive
	}
	if !checkPassword(u.PasswordHash, password) {
		return nil, ErrInvalidCredentials
	}
	now := s.now()
	if err := s.repo.SetLastLogin(ctx, u.ID, now); err != nil {
		return nil, err
	}
	u.LastLogin = &now
	return s.session(u, "Login successful")
}

// Logout revokes the caller's token until it would have expired anyway.
func (s *Service) Logout(ctx context.Context) error {
	if s.revoker == nil {
		return ErrNoRevoker
	}
	jti := auth.TokenIDFromContext(ctx)
	if jti == "" {
		return nil
	}
	exp, ok := auth.TokenExpiryFromContext(ctx)
	if !ok {
		exp = s.now().Add(s.tokens.TTL)
	}
	return s.revoker.Revoke(ctx, jti, exp)
}

func (s *Service) GetUser(ctx context.Context, id uuid.UUID) (*User, error) {
	return s.repo.GetByID(ctx, id)
}

// Profile returns the account behind the caller's token.
func (s *Service) Profile(ctx context.Context) (*User, error) {
	id, err := uuid.Parse(auth.UserIDFromContext(ctx))
	if err != nil {
		return nil, db.ErrNotFound
	}
	return s.repo.GetByID(ctx, id)
}

func (s *Service) ChangePassword(ctx context.Context, current, next string) error {
	u, err := s.Profile(ctx)
	if err != nil {
		return err
	}
	if !checkPassword(u.PasswordHash, current) {
		return ErrWrongPassword
	}
	if err := validatePassword(next); err != nil {
		return err
	}
	hash, err := hashPassword(next)
	if err != nil {
		return err
	}
	return s.repo.SetPassword(ctx, u.ID, hash)
}

func (s *Service) ListUsers(ctx context.Context, f Filter, limit, offset int) ([]*User, int, error) {
	if f.Role != "" && !auth.ValidRole(f.Role) {
		return nil, 0, fmt.Errorf("invalid role: %s", f.Role)
	}
	return s.repo.List(ctx, f, limit, offset)
}

func (s *Service) UpdateUser(ctx context.Context, id uuid.UUID, upd Update) (*User, error) {
	u, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if upd.Email != nil && !strings.EqualFold(*upd.Email, u.Email) {
		if _, err := mail.ParseAddress(*upd.Email); err != nil {
			return nil, fmt.Errorf("invalid email: %s", *upd.Email)
		}
		if other, err := s.repo.GetByEmail(ctx, *upd.Email); err == nil && other.ID != u.ID {
			return nil, ErrEmailTaken
		}
		u.Email = *upd.Email
	}
	if upd.Role != nil {
		if !auth.ValidRole(*upd.Role) {
			return nil, fmt.Errorf("invalid role: %s", *upd.Role)
		}
		u.Role = *upd.Role
	}
	if upd.FirstName != nil {
		u.FirstName = *upd.FirstName
	}
	if upd.LastName != nil {
		u.LastName = *upd.LastName
	}
	if upd.Department != nil {
		u.Department = *upd.Department
	}
	if upd.Phone != nil {
		u.Phone = *upd.Phone
	}
	if upd.BranchID != nil {
		u.BranchID = *upd.BranchID
	}
	if upd.Active != nil {
		if !*upd.Active && u.ID.String() == auth.UserIDFromContext(ctx) {
			return nil, ErrOwnAccount
		}
		u.Active = *upd.Active
	}
	if err := s.repo.Update(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

func (s *Service) DeactivateUser(ctx context.Context, id uuid.UUID) (*User, error) {
	inactive := false
	return s.UpdateUser(ctx, id, Update{Active: &inactive})
}

func (s *Service) DeleteUser(ctx context.Context, id uuid.UUID) error {
	if id.String() == auth.UserIDFromContext(ctx) {
		return ErrOwnAccount
	}
	return s.repo.Delete(ctx, id)
}
