package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dimfeld/ergo/internal/action"
	"github.com/dimfeld/ergo/internal/domain"
	"github.com/dimfeld/ergo/internal/objectid"
	"github.com/dimfeld/ergo/pkg/crypto"
)

// ActionStore implements action.Store, grounded on the teacher's
// tenant.go struct-wrapping-a-pool shape and run.go's
// errors.Is(pgx.ErrNoRows) mapping.
type ActionStore struct {
	pool querier
	enc  *crypto.Encryptor
}

// NewActionStore wires a production pool and the envelope encryptor
// used to decrypt accounts.fields at rest (domain.Account's doc comment;
// spec.md §4.F step 4 reads the decrypted view).
func NewActionStore(pool *pgxpool.Pool, enc *crypto.Encryptor) *ActionStore {
	return &ActionStore{pool: pool, enc: enc}
}

// NewActionStoreWithQuerier is the test-facing constructor, accepting a
// pgxmock.PgxPoolIface in place of a real pool.
func NewActionStoreWithQuerier(pool querier, enc *crypto.Encryptor) *ActionStore {
	return &ActionStore{pool: pool, enc: enc}
}

// LoadInvocation joins task_action, its backing action, and (if bound) the
// account whose credentials the action uses, per spec.md §4.F step 2.
func (s *ActionStore) LoadInvocation(ctx context.Context, taskID objectid.TaskID, localID string) (*action.InvocationData, error) {
	const query = `
		SELECT
			t.task_id, t.org_id, t.name, t.enabled,
			ta.task_action_local_id, ta.name, ta.action_id, ta.action_template, ta.account_id,
			a.action_id, a.name, a.executor_id, a.executor_template, a.template_fields,
			a.account_required, a.postprocess_script, a.timeout_seconds,
			acc.account_id, acc.org_id, acc.name, acc.fields, acc.expires
		FROM task_actions ta
		JOIN tasks t ON t.task_id = ta.task_id
		JOIN actions a ON a.action_id = ta.action_id
		LEFT JOIN accounts acc ON acc.account_id = ta.account_id
		WHERE ta.task_id = $1 AND ta.task_action_local_id = $2
	`

	row := s.pool.QueryRow(ctx, query, taskID.UUID(), localID)

	var (
		data                              action.InvocationData
		orgUUID                           uuid.UUID
		actionTemplate                    []byte
		accountID                         *uuid.UUID
		actionUUID                        uuid.UUID
		executorTemplate, templateFields  []byte
		accAccountID, accOrgID            *uuid.UUID
		accName                           *string
		accFields                         []byte
		accExpires                        *time.Time
	)

	err := row.Scan(
		&data.Task.TaskID, &orgUUID, &data.Task.Name, &data.Task.Enabled,
		&data.TaskAction.LocalID, &data.TaskAction.Name, &actionUUID, &actionTemplate, &accountID,
		&data.Action.ActionID, &data.Action.Name, &data.Action.ExecutorID, &executorTemplate, &templateFields,
		&data.Action.AccountRequired, &data.Action.PostprocessScript, &data.Action.TimeoutSeconds,
		&accAccountID, &accOrgID, &accName, &accFields, &accExpires,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrTaskActionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading action invocation data: %w", err)
	}

	data.Task.OrgID = objectid.OrgIDFromUUID(orgUUID)
	data.TaskAction.TaskID = data.Task.TaskID
	data.TaskAction.ActionID = objectid.ActionIDFromUUID(actionUUID)
	if accountID != nil {
		id := objectid.AccountIDFromUUID(*accountID)
		data.TaskAction.AccountID = &id
	}
	if len(actionTemplate) > 0 {
		if err := json.Unmarshal(actionTemplate, &data.TaskAction.ActionTemplate); err != nil {
			return nil, fmt.Errorf("decoding action_template: %w", err)
		}
	}
	if err := json.Unmarshal(executorTemplate, &data.Action.ExecutorTemplate); err != nil {
		return nil, fmt.Errorf("decoding executor_template: %w", err)
	}
	if err := json.Unmarshal(templateFields, &data.Action.TemplateFields); err != nil {
		return nil, fmt.Errorf("decoding template_fields: %w", err)
	}

	if accAccountID != nil {
		data.Account = &domain.Account{
			AccountID: objectid.AccountIDFromUUID(*accAccountID),
			OrgID:     objectid.OrgIDFromUUID(*accOrgID),
			Name:      derefString(accName),
			Expires:   accExpires,
		}
		if len(accFields) > 0 {
			plaintext, err := s.decryptAccountFields(accFields)
			if err != nil {
				return nil, fmt.Errorf("decrypting account fields: %w", err)
			}
			if err := json.Unmarshal(plaintext, &data.Account.Fields); err != nil {
				return nil, fmt.Errorf("decoding account fields: %w", err)
			}
		}
	}

	return &data, nil
}

// decryptAccountFields reverses EncryptAccountFields: accFields is the
// raw accounts.fields jsonb column, holding a json-encoded
// crypto.EncryptedData envelope rather than the credentials themselves.
func (s *ActionStore) decryptAccountFields(accFields []byte) ([]byte, error) {
	var envelope crypto.EncryptedData
	if err := json.Unmarshal(accFields, &envelope); err != nil {
		return nil, fmt.Errorf("decoding encryption envelope: %w", err)
	}
	return s.enc.Decrypt(&envelope)
}

// EncryptAccountFields prepares a plaintext credentials object for
// storage in the accounts.fields column, the write-side counterpart to
// decryptAccountFields read by LoadInvocation.
func EncryptAccountFields(enc *crypto.Encryptor, fields map[string]any) (json.RawMessage, error) {
	plaintext, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("encoding account fields: %w", err)
	}
	envelope, err := enc.Encrypt(plaintext)
	if err != nil {
		return nil, fmt.Errorf("encrypting account fields: %w", err)
	}
	return json.Marshal(envelope)
}

func (s *ActionStore) MarkRunning(ctx context.Context, actionsLogID uuid.UUID) error {
	const query = `UPDATE actions_log SET status = $2, updated = now() WHERE actions_log_id = $1`
	tag, err := s.pool.Exec(ctx, query, actionsLogID, domain.LogStatusRunning)
	if err != nil {
		return fmt.Errorf("marking action running: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrActionsLogNotFound
	}
	return nil
}

func (s *ActionStore) PersistResult(ctx context.Context, actionsLogID uuid.UUID, status domain.LogStatus, result json.RawMessage) error {
	const query = `UPDATE actions_log SET status = $2, result = $3, updated = now() WHERE actions_log_id = $1`
	_, err := s.pool.Exec(ctx, query, actionsLogID, status, result)
	if err != nil {
		return fmt.Errorf("persisting action result: %w", err)
	}
	return nil
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
