package service

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kmulambia/qgen-engine/internal/config"
	"github.com/kmulambia/qgen-engine/internal/hashing"
	"github.com/kmulambia/qgen-engine/internal/models"
	"github.com/kmulambia/qgen-engine/internal/notify"
	"github.com/kmulambia/qgen-engine/internal/repository"
	"github.com/kmulambia/qgen-engine/internal/repository/memory"
	"github.com/kmulambia/qgen-engine/internal/token"
)

type captureMailer struct {
	messages []notify.Message
}

func (m *captureMailer) Send(_ context.Context, msg notify.Message) error {
	m.messages = append(m.messages, msg)
	return nil
}

func (m *captureMailer) lastData(t *testing.T, template string) map[string]any {
	t.Helper()
	for i := len(m.messages) - 1; i >= 0; i-- {
		if m.messages[i].Template.Name == template {
			return m.messages[i].Template.Data
		}
	}
	t.Fatalf("no %q message captured", template)
	return nil
}

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time { return c.t }

func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

type fixture struct {
	store  *memory.Store
	clock  *fakeClock
	mailer *captureMailer

	credentials *CredentialService
	tokens      *TokenService
	otps        *OTPService
	audits      *AuditService
	auth        *AuthService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	clock := &fakeClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	store := memory.NewStore()
	vault := hashing.NewVault()

	codec, err := token.NewCodec(config.JWTConfig{
		Key:                "test-signing-key",
		Algorithm:          "HS256",
		TokenExpireMinutes: 30,
	})
	require.NoError(t, err)
	codec.WithClock(clock.now)

	mailer := &captureMailer{}
	audits := NewAuditService().WithClock(clock.now)
	credentials := NewCredentialService(vault).WithClock(clock.now)
	tokens := NewTokenService(codec).WithClock(clock.now)
	otps := NewOTPService(vault, audits).WithClock(clock.now)
	auth := NewAuthService(store, credentials, tokens, otps, audits, mailer).WithClock(clock.now)

	store.SeedRole(&models.Role{
		ID: uuid.New(), Name: DefaultRoleName, Status: models.StatusActive, CreatedAt: clock.t,
	}, "quotation.read", "quotation.write")
	store.SeedWorkspace(&models.Workspace{
		ID: uuid.New(), Name: DefaultWorkspaceName, Status: models.StatusActive, CreatedAt: clock.t,
	})

	return &fixture{
		store:       store,
		clock:       clock,
		mailer:      mailer,
		credentials: credentials,
		tokens:      tokens,
		otps:        otps,
		audits:      audits,
		auth:        auth,
	}
}

func (f *fixture) register(t *testing.T, email, phone, password string) *models.User {
	t.Helper()
	user, err := f.auth.Register(context.Background(), RegisterInput{
		FirstName: "Ada",
		LastName:  "Banda",
		Phone:     phone,
		Email:     email,
		Password:  password,
	}, "203.0.113.7", "test-agent")
	require.NoError(t, err)
	return user
}

func (f *fixture) auditCount(action, status string) int {
	count := 0
	for _, record := range f.store.AuditRecords() {
		if record.Action == action && record.Status == status {
			count++
		}
	}
	return count
}

func TestLoginIssuesTokenAndAudit(t *testing.T) {
	f := newFixture(t)
	user := f.register(t, "ada@example.com", "+265991000001", "s3cret-pass")

	result, err := f.auth.Login(context.Background(), "ada@example.com", "s3cret-pass", nil, "203.0.113.7", "test-agent")
	require.NoError(t, err)

	assert.Equal(t, user.ID, result.User.ID)
	assert.Equal(t, models.StatusActive, result.Token.Status)
	assert.Equal(t, []string{"quotation.read", "quotation.write"}, result.Permissions)

	rows := f.store.SessionTokens()
	require.Len(t, rows, 1)
	assert.Equal(t, models.StatusActive, rows[0].Status)
	assert.Equal(t, "203.0.113.7", rows[0].LastIPAddress)

	assert.Equal(t, 1, f.auditCount("user.login", models.AuditStatusSuccess))
}

func TestLoginWrongPasswordAuditsEachAttempt(t *testing.T) {
	f := newFixture(t)
	f.register(t, "ada@example.com", "+265991000001", "s3cret-pass")

	for i := 0; i < 3; i++ {
		_, err := f.auth.Login(context.Background(), "ada@example.com", "wrong-pass", nil, "203.0.113.7", "test-agent")
		assert.ErrorIs(t, err, ErrInvalidCredentials)
	}

	assert.Equal(t, 3, f.auditCount("user.login", models.AuditStatusFailed))
	assert.Empty(t, f.store.SessionTokens())

	result, err := f.auth.Login(context.Background(), "ada@example.com", "s3cret-pass", nil, "203.0.113.7", "test-agent")
	require.NoError(t, err)
	assert.NotNil(t, result.Token)
	assert.Len(t, f.store.SessionTokens(), 1)
	assert.Equal(t, 1, f.auditCount("user.login", models.AuditStatusSuccess))
}

func TestLoginUnknownUser(t *testing.T) {
	f := newFixture(t)

	_, err := f.auth.Login(context.Background(), "ghost@example.com", "whatever", nil, "203.0.113.7", "test-agent")
	assert.ErrorIs(t, err, ErrUserNotFound)
	assert.Empty(t, f.store.AuditRecords())
}

func TestLoginInactiveUser(t *testing.T) {
	f := newFixture(t)
	f.register(t, "ada@example.com", "+265991000001", "s3cret-pass")

	dormant := &models.User{
		ID:        uuid.New(),
		FirstName: "Bo",
		LastName:  "Phiri",
		Phone:     "+265991000002",
		Email:     "bo@example.com",
		Status:    models.StatusInactive,
		CreatedAt: f.clock.t,
		UpdatedAt: f.clock.t,
	}
	err := f.store.WithinTx(context.Background(), func(r repository.Repositories) error {
		if _, err := r.Users.Create(context.Background(), dormant); err != nil {
			return err
		}
		return f.credentials.Rotate(context.Background(), r, dormant.ID, "s3cret-pass")
	})
	require.NoError(t, err)

	_, err = f.auth.Login(context.Background(), "bo@example.com", "s3cret-pass", nil, "203.0.113.7", "test-agent")
	assert.ErrorIs(t, err, ErrUserNotActive)

	assert.Equal(t, 1, f.auditCount("user.login", models.AuditStatusFailed))
}

func TestLoginWithoutMembershipInRequestedWorkspace(t *testing.T) {
	f := newFixture(t)
	f.register(t, "ada@example.com", "+265991000001", "s3cret-pass")

	other := uuid.New()
	_, err := f.auth.Login(context.Background(), "ada@example.com", "s3cret-pass", &other, "203.0.113.7", "test-agent")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestChangePasswordRotatesSingleActiveCredential(t *testing.T) {
	f := newFixture(t)
	user := f.register(t, "ada@example.com", "+265991000001", "old-pass")

	err := f.auth.ChangePassword(context.Background(), user.ID, user.ID, "new-pass")
	require.NoError(t, err)

	_, err = f.auth.Login(context.Background(), "ada@example.com", "old-pass", nil, "203.0.113.7", "test-agent")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = f.auth.Login(context.Background(), "ada@example.com", "new-pass", nil, "203.0.113.7", "test-agent")
	require.NoError(t, err)

	active := 0
	for _, link := range f.store.UserCredentials() {
		if link.UserID == user.ID && link.Status == models.StatusActive {
			active++
		}
	}
	assert.Equal(t, 1, active)
	assert.Equal(t, 1, f.auditCount("user.password_change", models.AuditStatusSuccess))
}

func TestChangePasswordByAnotherActor(t *testing.T) {
	f := newFixture(t)
	user := f.register(t, "ada@example.com", "+265991000001", "old-pass")
	admin := f.register(t, "admin@example.com", "+265991000009", "admin-pass")

	err := f.auth.ChangePassword(context.Background(), admin.ID, user.ID, "new-pass")
	require.NoError(t, err)

	assert.Equal(t, 1, f.auditCount("user.password_change_by_admin", models.AuditStatusSuccess))
	assert.Equal(t, 0, f.auditCount("user.password_change", models.AuditStatusSuccess))
}

func TestRequestOTPSingleActivePerUserAndType(t *testing.T) {
	f := newFixture(t)
	f.register(t, "ada@example.com", "+265991000001", "s3cret-pass")

	err := f.auth.RequestOTP(context.Background(), "ada@example.com", models.OTPTypePasswordReset, "203.0.113.7", "test-agent")
	require.NoError(t, err)

	err = f.auth.RequestOTP(context.Background(), "ada@example.com", models.OTPTypePasswordReset, "203.0.113.7", "test-agent")
	assert.ErrorIs(t, err, ErrActiveOTPExists)
	assert.Len(t, f.store.OTPs(), 1)

	f.clock.advance(OTPTTL + time.Minute)
	err = f.auth.RequestOTP(context.Background(), "ada@example.com", models.OTPTypePasswordReset, "203.0.113.7", "test-agent")
	require.NoError(t, err)

	rows := f.store.OTPs()
	require.Len(t, rows, 2)
	active := 0
	for _, row := range rows {
		if !row.IsUsed {
			active++
		}
	}
	assert.Equal(t, 1, active)
}

func TestResetPasswordConsumesCodeOnce(t *testing.T) {
	f := newFixture(t)
	f.register(t, "ada@example.com", "+265991000001", "old-pass")

	err := f.auth.RequestOTP(context.Background(), "ada@example.com", models.OTPTypePasswordReset, "203.0.113.7", "test-agent")
	require.NoError(t, err)
	code := f.mailer.lastData(t, notify.TemplateOTP)["code"].(string)
	require.Len(t, code, 6)

	err = f.auth.ResetPassword(context.Background(), "ada@example.com", code, "new-pass", "203.0.113.7", "test-agent")
	require.NoError(t, err)

	_, err = f.auth.Login(context.Background(), "ada@example.com", "new-pass", nil, "203.0.113.7", "test-agent")
	require.NoError(t, err)

	err = f.auth.ResetPassword(context.Background(), "ada@example.com", code, "again-pass", "203.0.113.7", "test-agent")
	assert.ErrorIs(t, err, ErrInvalidOTP)
	assert.Equal(t, 1, f.auditCount("user.password_reset", models.AuditStatusFailed))
}

func TestResetPasswordExpiredCode(t *testing.T) {
	f := newFixture(t)
	f.register(t, "ada@example.com", "+265991000001", "old-pass")

	err := f.auth.RequestOTP(context.Background(), "ada@example.com", models.OTPTypePasswordReset, "203.0.113.7", "test-agent")
	require.NoError(t, err)
	code := f.mailer.lastData(t, notify.TemplateOTP)["code"].(string)

	f.clock.advance(OTPTTL + time.Minute)
	err = f.auth.ResetPassword(context.Background(), "ada@example.com", code, "new-pass", "203.0.113.7", "test-agent")
	assert.ErrorIs(t, err, ErrInvalidOTP)

	_, err = f.auth.Login(context.Background(), "ada@example.com", "old-pass", nil, "203.0.113.7", "test-agent")
	require.NoError(t, err)
}

func TestResetPasswordWrongCode(t *testing.T) {
	f := newFixture(t)
	f.register(t, "ada@example.com", "+265991000001", "old-pass")

	err := f.auth.RequestOTP(context.Background(), "ada@example.com", models.OTPTypePasswordReset, "203.0.113.7", "test-agent")
	require.NoError(t, err)

	err = f.auth.ResetPassword(context.Background(), "ada@example.com", "WRONG1", "new-pass", "203.0.113.7", "test-agent")
	assert.ErrorIs(t, err, ErrInvalidOTP)

	rows := f.store.OTPs()
	require.Len(t, rows, 1)
	assert.False(t, rows[0].IsUsed)
}

func TestVerifyTokenReturnsClaims(t *testing.T) {
	f := newFixture(t)
	f.register(t, "ada@example.com", "+265991000001", "s3cret-pass")

	result, err := f.auth.Login(context.Background(), "ada@example.com", "s3cret-pass", nil, "203.0.113.7", "test-agent")
	require.NoError(t, err)

	claims, err := f.auth.VerifyToken(context.Background(), result.Token.JWT)
	require.NoError(t, err)
	assert.Equal(t, result.User.ID, claims.UserID)
	assert.Equal(t, result.WorkspaceID, claims.WorkspaceID)
	assert.Equal(t, "ada@example.com", claims.Email)
}

func TestVerifyTokenLazilyExpiresStoredRow(t *testing.T) {
	f := newFixture(t)
	f.register(t, "ada@example.com", "+265991000001", "s3cret-pass")

	result, err := f.auth.Login(context.Background(), "ada@example.com", "s3cret-pass", nil, "203.0.113.7", "test-agent")
	require.NoError(t, err)

	f.clock.advance(31 * time.Minute)

	_, err = f.auth.VerifyToken(context.Background(), result.Token.JWT)
	assert.ErrorIs(t, err, ErrTokenExpired)

	rows := f.store.SessionTokens()
	require.Len(t, rows, 1)
	assert.Equal(t, models.StatusExpired, rows[0].Status)

	// A second presentation reports the same error without another write.
	_, err = f.auth.VerifyToken(context.Background(), result.Token.JWT)
	assert.ErrorIs(t, err, ErrTokenExpired)
}

func TestVerifyTokenGarbage(t *testing.T) {
	f := newFixture(t)

	_, err := f.auth.VerifyToken(context.Background(), "not-a-token")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestRegisterDuplicateEmail(t *testing.T) {
	f := newFixture(t)
	f.register(t, "ada@example.com", "+265991000001", "s3cret-pass")

	_, err := f.auth.Register(context.Background(), RegisterInput{
		FirstName: "Twin",
		LastName:  "Banda",
		Phone:     "+265991000003",
		Email:     "ada@example.com",
		Password:  "another-pass",
	}, "203.0.113.7", "test-agent")
	assert.ErrorIs(t, err, ErrEmailTaken)
	assert.Equal(t, 1, f.auditCount("user.self_register", models.AuditStatusFailed))
}

func TestRegisterSendsWelcomeMail(t *testing.T) {
	f := newFixture(t)
	f.register(t, "ada@example.com", "+265991000001", "s3cret-pass")

	data := f.mailer.lastData(t, notify.TemplateWelcome)
	assert.Equal(t, "ada@example.com", data["email"])
}
