package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/openclaw/broadcast-server-go/internal/database"
	"github.com/openclaw/broadcast-server-go/internal/model"
	"github.com/openclaw/broadcast-server-go/internal/util"
)

// sealedPrefix marks credentials encrypted at rest. Rows written before a key
// was configured stay readable as plaintext.
const sealedPrefix = "enc:"

const accountColumns = `identifier, credential, role, active, created_at, updated_at`

type AccountRepository interface {
	Get(ctx context.Context, identifier string) (*model.Account, error)
	// Upsert stores a fresh credential. A new account gets defaultRole and
	// active=true; an existing one keeps its role and active flag.
	Upsert(ctx context.Context, identifier, credential string, defaultRole model.Role) (*model.Account, error)
	SetActive(ctx context.Context, identifier string, active bool) (bool, error)
	SetRole(ctx context.Context, identifier string, role model.Role) (bool, error)
	ListAll(ctx context.Context) ([]model.Account, error)
}

type accountRepo struct {
	db     database.DBTX
	cipher *util.Cipher
}

// NewAccountRepository returns the sqlx-backed repository. cipher may be nil,
// in which case credentials are stored as given.
func NewAccountRepository(db database.DBTX, cipher *util.Cipher) AccountRepository {
	return &accountRepo{db: db, cipher: cipher}
}

func (r *accountRepo) Get(ctx context.Context, identifier string) (*model.Account, error) {
	found, err := getOne[model.Account](ctx, r.db, `
		SELECT `+accountColumns+` FROM accounts WHERE identifier = ?
	`, identifier)
	if err != nil || found == nil {
		return nil, err
	}
	if err := r.open(found); err != nil {
		return nil, err
	}
	return found, nil
}

func (r *accountRepo) Upsert(ctx context.Context, identifier, credential string, defaultRole model.Role) (*model.Account, error) {
	stored, err := r.seal(credential)
	if err != nil {
		return nil, err
	}

	now := time.Now().Unix()
	var account model.Account
	err = r.db.GetContext(ctx, &account, r.db.Rebind(`
		INSERT INTO accounts (identifier, credential, role, active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (identifier) DO UPDATE SET
			credential = excluded.credential,
			updated_at = excluded.updated_at
		RETURNING `+accountColumns+`
	`), identifier, stored, defaultRole, true, now, now)
	if err != nil {
		return nil, err
	}
	if err := r.open(&account); err != nil {
		return nil, err
	}
	return &account, nil
}

func (r *accountRepo) SetActive(ctx context.Context, identifier string, active bool) (bool, error) {
	result, err := r.db.ExecContext(ctx, r.db.Rebind(`
		UPDATE accounts SET active = ?, updated_at = ? WHERE identifier = ?
	`), active, time.Now().Unix(), identifier)
	if err != nil {
		return false, err
	}
	n, err := result.RowsAffected()
	return n > 0, err
}

func (r *accountRepo) SetRole(ctx context.Context, identifier string, role model.Role) (bool, error) {
	result, err := r.db.ExecContext(ctx, r.db.Rebind(`
		UPDATE accounts SET role = ?, updated_at = ? WHERE identifier = ?
	`), role, time.Now().Unix(), identifier)
	if err != nil {
		return false, err
	}
	n, err := result.RowsAffected()
	return n > 0, err
}

func (r *accountRepo) ListAll(ctx context.Context) ([]model.Account, error) {
	var accounts []model.Account
	err := r.db.SelectContext(ctx, &accounts, `
		SELECT `+accountColumns+` FROM accounts ORDER BY created_at, identifier
	`)
	if err != nil {
		return nil, err
	}
	for i := range accounts {
		if err := r.open(&accounts[i]); err != nil {
			return nil, err
		}
	}
	return accounts, nil
}

func (r *accountRepo) seal(credential string) (string, error) {
	if r.cipher == nil {
		return credential, nil
	}
	sealed, err := r.cipher.EncryptString(credential)
	if err != nil {
		return "", fmt.Errorf("seal credential: %w", err)
	}
	return sealedPrefix + sealed, nil
}

func (r *accountRepo) open(account *model.Account) error {
	if account.Credential == nil || !strings.HasPrefix(*account.Credential, sealedPrefix) {
		return nil
	}
	if r.cipher == nil {
		return fmt.Errorf("credential for %s is encrypted but no key is configured", util.MaskIdentifier(account.Identifier))
	}
	plain, err := r.cipher.DecryptString(strings.TrimPrefix(*account.Credential, sealedPrefix))
	if err != nil {
		return fmt.Errorf("open credential: %w", err)
	}
	account.Credential = &plain
	return nil
}
