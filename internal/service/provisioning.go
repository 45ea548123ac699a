package service

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/and161185/waitgate/internal/errs"
	"github.com/and161185/waitgate/internal/identity"
	"github.com/and161185/waitgate/internal/model"
	"github.com/and161185/waitgate/internal/repository"
)

// ProvisioningService drives waitlist entries through pending → approved → registered.
type ProvisioningService interface {
	// Approve provisions an account for a pending entry and marks it approved.
	Approve(ctx context.Context, entryID string) (*ApprovalResult, error)
	// CreateAccount creates the deferred account of an approved entry with
	// secret and marks it registered.
	CreateAccount(ctx context.Context, entryID, secret string) (*CreateAccountResult, error)
	// SelfRegister creates an account without an administrator, approving it
	// when the email was already approved.
	SelfRegister(ctx context.Context, email, secret string) (*RegistrationResult, error)
}

// ApprovalResult is returned by Approve.
type ApprovalResult struct {
	Outcome
	Entry model.WaitlistEntry
	User  model.UserRecord
	// Secret is the newly issued secret, empty when the email already had an
	// account. It is returned once; later views read the stored tempPassword.
	Secret string
	// ExistingAccount is true when no account was created.
	ExistingAccount bool
}

// CreateAccountResult is returned by CreateAccount.
type CreateAccountResult struct {
	Outcome
	Entry           model.WaitlistEntry
	ExistingAccount bool
}

// RegistrationResult is returned by SelfRegister.
type RegistrationResult struct {
	Outcome
	User model.UserRecord
	// Entry is the matched waitlist entry, if any.
	Entry *model.WaitlistEntry
	// ExistingAccount is true when the email already had an account; nothing
	// was written and a reset email was requested instead.
	ExistingAccount bool
}

type ProvisioningServiceImpl struct {
	w        writer
	idp      identity.Provider
	probe    identity.ExistenceProbe
	verifier identity.CredentialVerifier
	secrets  SecretSource
	log      *zap.Logger
	opts     options
}

// NewProvisioningService constructs ProvisioningService with required dependencies.
func NewProvisioningService(
	st Stores,
	idp identity.Provider,
	probe identity.ExistenceProbe,
	verifier identity.CredentialVerifier,
	secrets SecretSource,
	log *zap.Logger,
	opts ...Option,
) *ProvisioningServiceImpl {
	o := buildOptions(opts)
	return &ProvisioningServiceImpl{
		w:        writer{store: st.Records, journal: st.Journal, log: log, now: o.now},
		idp:      idp,
		probe:    probe,
		verifier: verifier,
		secrets:  secrets,
		log:      log,
		opts:     o,
	}
}

// Approve runs the approval pipeline for a pending entry:
// probe, create and verify (or fall back to a reset email), write the user
// and legacy records, then advance the entry.
func (s *ProvisioningServiceImpl) Approve(ctx context.Context, entryID string) (*ApprovalResult, error) {
	entry, err := loadEntry(ctx, s.w.store, entryID)
	if err != nil {
		return nil, err
	}
	if entry.Status != model.StatusPending {
		return nil, fmt.Errorf("%w: approve %s from %q", errs.ErrInvalidTransition, entry.ID, entry.Status)
	}
	email := normalizeEmail(entry.Email)
	if err := validateEmail(email); err != nil {
		return nil, err
	}

	probe, err := s.probe.Probe(ctx, email)
	if err != nil {
		return nil, &errs.ProviderError{Op: "probe", Err: err}
	}

	res := &ApprovalResult{}
	uid := probe.UID
	if !probe.Exists {
		sec, err := s.secrets.Generate()
		if err != nil {
			return nil, fmt.Errorf("generate secret: %w", err)
		}
		created, err := s.idp.CreateAccount(ctx, email, sec)
		switch {
		case err == nil:
			uid = created
			res.Secret = sec
			s.verify(ctx, email, sec, &res.Outcome)
		case errors.Is(err, errs.ErrAlreadyInUse):
			s.log.Info("account already exists, falling back to reset email", zap.String("entry", entry.ID))
			probe.Exists = true
		default:
			return nil, &errs.ProviderError{Op: "create-account", Err: err}
		}
	}
	if probe.Exists {
		res.ExistingAccount = true
		res.ResetEmailSent = probe.ResetSent || s.sendReset(ctx, email, &res.Outcome)
		if uid == "" {
			if uid, err = placeholderUID(); err != nil {
				return nil, err
			}
		}
		res.Warning = joinWarning(res.Warning, "email already has an account; no secret was issued, the user must reset their password")
	}

	now := s.opts.now().UTC()
	user, userPatch := s.approvedUser(ctx, uid, email, entry.ID, res.Secret, now)
	legacyPatch := model.Document{
		model.FieldEmail:      email,
		model.FieldIsApproved: true,
		model.FieldApprovedAt: now,
	}
	if res.Secret != "" {
		legacyPatch[model.FieldTempSecret] = res.Secret
	}
	s.collect(&res.Outcome, s.w.write(ctx, "approve", model.CollectionUsers, uid, userPatch))
	s.collect(&res.Outcome, s.w.write(ctx, "approve", model.CollectionLegacyApproved, uid, legacyPatch))

	entryPatch := model.Document{
		model.FieldStatus:     model.StatusApproved,
		model.FieldApprovedAt: now,
		model.FieldUID:        uid,
	}
	if res.Secret != "" {
		entryPatch[model.FieldTempSecret] = res.Secret
	}
	s.advance(ctx, "approve", entry.ID, model.StatusApproved, entryPatch, &res.Outcome)

	entry.Email = email
	entry.Status = model.StatusApproved
	entry.ApprovedAt = &now
	entry.UID = uid
	if res.Secret != "" {
		entry.TempSecret = res.Secret
	}
	res.Entry = entry
	res.User = user
	return res, nil
}

// CreateAccount completes an approved entry whose account was deferred.
func (s *ProvisioningServiceImpl) CreateAccount(ctx context.Context, entryID, secret string) (*CreateAccountResult, error) {
	if err := validateSecret(secret); err != nil {
		return nil, err
	}
	entry, err := loadEntry(ctx, s.w.store, entryID)
	if err != nil {
		return nil, err
	}
	if entry.Status != model.StatusApproved {
		return nil, fmt.Errorf("%w: create account for %s in %q", errs.ErrInvalidTransition, entry.ID, entry.Status)
	}
	email := normalizeEmail(entry.Email)

	res := &CreateAccountResult{}
	uid, err := s.idp.CreateAccount(ctx, email, secret)
	switch {
	case err == nil:
		s.verify(ctx, email, secret, &res.Outcome)
	case errors.Is(err, errs.ErrAlreadyInUse):
		s.log.Info("account already exists, falling back to reset email", zap.String("entry", entry.ID))
		res.ExistingAccount = true
		res.ResetEmailSent = s.sendReset(ctx, email, &res.Outcome)
		res.Warning = joinWarning(res.Warning, "email already has an account; the supplied secret was not applied")
		if uid = entry.UID; uid == "" {
			if uid, err = placeholderUID(); err != nil {
				return nil, err
			}
		}
	default:
		return nil, &errs.ProviderError{Op: "create-account", Err: err}
	}

	now := s.opts.now().UTC()
	if !res.ExistingAccount {
		_, userPatch := s.approvedUser(ctx, uid, email, entry.ID, secret, now)
		s.collect(&res.Outcome, s.w.write(ctx, "create-account", model.CollectionUsers, uid, userPatch))
		s.collect(&res.Outcome, s.w.write(ctx, "create-account", model.CollectionLegacyApproved, uid, model.Document{
			model.FieldEmail:      email,
			model.FieldIsApproved: true,
			model.FieldApprovedAt: now,
			model.FieldTempSecret: secret,
		}))
	}

	entryPatch := model.Document{
		model.FieldStatus:       model.StatusRegistered,
		model.FieldRegisteredAt: now,
		model.FieldUID:          uid,
	}
	if !res.ExistingAccount {
		entryPatch[model.FieldTempSecret] = secret
		entryPatch[model.FieldLastUsedSecret] = secret
		entry.TempSecret = secret
		entry.LastUsedSecret = secret
	}
	s.advance(ctx, "create-account", entry.ID, model.StatusRegistered, entryPatch, &res.Outcome)

	entry.Email = email
	entry.Status = model.StatusRegistered
	entry.RegisteredAt = &now
	entry.UID = uid
	res.Entry = entry
	return res, nil
}

// SelfRegister creates an account for email. The account is approved when the
// email has a legacy approval or an approved waitlist entry; a matched entry
// becomes registered.
func (s *ProvisioningServiceImpl) SelfRegister(ctx context.Context, email, secret string) (*RegistrationResult, error) {
	email = normalizeEmail(email)
	if err := validateEmail(email); err != nil {
		return nil, err
	}
	if err := validateSecret(secret); err != nil {
		return nil, err
	}

	legacyApproved, err := s.hasLegacyApproval(ctx, email)
	if err != nil {
		return nil, err
	}
	match, err := s.approvedEntry(ctx, email)
	if err != nil {
		return nil, err
	}

	res := &RegistrationResult{}
	uid, err := s.idp.CreateAccount(ctx, email, secret)
	switch {
	case err == nil:
	case errors.Is(err, errs.ErrAlreadyInUse):
		s.log.Info("self registration for existing account", zap.String("email", email))
		res.ExistingAccount = true
		res.ResetEmailSent = s.sendReset(ctx, email, &res.Outcome)
		res.Warning = joinWarning(res.Warning, "email already has an account; sign in or reset the password")
		return res, nil
	default:
		return nil, &errs.ProviderError{Op: "create-account", Err: err}
	}

	approved := legacyApproved || match != nil
	now := s.opts.now().UTC()
	user := model.UserRecord{
		ID:         uid,
		Email:      email,
		Role:       model.RoleRegular,
		IsApproved: approved,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	userPatch := model.Document{
		model.FieldEmail:      email,
		model.FieldRole:       model.RoleRegular,
		model.FieldIsApproved: approved,
		model.FieldCreatedAt:  now,
		model.FieldUpdatedAt:  now,
	}
	if match != nil {
		user.WaitlistID = match.ID
		userPatch[model.FieldWaitlistID] = match.ID
	}
	s.collect(&res.Outcome, s.w.write(ctx, "self-register", model.CollectionUsers, uid, userPatch))

	if approved {
		s.collect(&res.Outcome, s.w.write(ctx, "self-register", model.CollectionLegacyApproved, uid, model.Document{
			model.FieldEmail:      email,
			model.FieldIsApproved: true,
			model.FieldApprovedAt: now,
		}))
	}
	if match != nil {
		s.advance(ctx, "self-register", match.ID, model.StatusRegistered, model.Document{
			model.FieldStatus:       model.StatusRegistered,
			model.FieldRegisteredAt: now,
			model.FieldUID:          uid,
		}, &res.Outcome)
		match.Status = model.StatusRegistered
		match.RegisteredAt = &now
		match.UID = uid
		res.Entry = match
	}
	res.User = user
	return res, nil
}

// verify checks an issued secret. A failure never aborts; it turns into a warning.
func (s *ProvisioningServiceImpl) verify(ctx context.Context, email, secret string, out *Outcome) {
	v, err := s.verifier.Verify(ctx, email, secret)
	out.SessionInvalidated = out.SessionInvalidated || v.SessionInvalidated
	if v.SignOutErr != nil {
		s.log.Warn("sign-out after verification failed", zap.String("email", email), zap.Error(v.SignOutErr))
		out.Warning = joinWarning(out.Warning, "verification session may still be signed in as "+email)
	}
	if err != nil {
		s.log.Warn("issued secret failed verification", zap.String("email", email), zap.Error(err))
		out.Verified = false
		out.Warning = joinWarning(out.Warning, fmt.Sprintf("%v; validate the secret manually", errs.ErrVerificationMismatch))
		return
	}
	out.Verified = true
}

func (s *ProvisioningServiceImpl) sendReset(ctx context.Context, email string, out *Outcome) bool {
	if err := s.idp.SendResetEmail(ctx, email); err != nil {
		s.log.Warn("reset email failed", zap.String("email", email), zap.Error(err))
		out.Warning = joinWarning(out.Warning, "password reset email could not be sent")
		return false
	}
	return true
}

// approvedUser builds the approved user record for uid. createdAt is written
// only for new records; an existing role is kept so approval never demotes.
func (s *ProvisioningServiceImpl) approvedUser(ctx context.Context, uid, email, entryID, secret string, now time.Time) (model.UserRecord, model.Document) {
	user := model.UserRecord{
		ID:         uid,
		Email:      email,
		Role:       model.RoleRegular,
		IsApproved: true,
		TempSecret: secret,
		WaitlistID: entryID,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	patch := model.Document{
		model.FieldEmail:      email,
		model.FieldIsApproved: true,
		model.FieldWaitlistID: entryID,
		model.FieldUpdatedAt:  now,
	}
	if secret != "" {
		patch[model.FieldTempSecret] = secret
	}

	doc, err := s.w.store.Get(ctx, model.CollectionUsers, uid)
	if err == nil {
		if cur, derr := model.Decode[model.UserRecord](doc); derr == nil {
			user.CreatedAt = cur.CreatedAt
			user.Permissions = cur.Permissions
			if cur.Role == model.RoleAdmin {
				user.Role = cur.Role
			}
			if secret == "" {
				user.TempSecret = cur.TempSecret
			}
		}
	} else {
		if !errors.Is(err, errs.ErrNotFound) {
			s.log.Warn("load user before approval", zap.String("uid", uid), zap.Error(err))
		}
		patch[model.FieldCreatedAt] = now
	}
	if user.Role == model.RoleRegular {
		patch[model.FieldRole] = model.RoleRegular
	}
	return user, patch
}

// advance writes an entry patch that moves status to target. When the stored
// status is already at or past target the status fields are dropped so the
// entry never moves backward.
func (s *ProvisioningServiceImpl) advance(ctx context.Context, op, entryID string, target model.Status, patch model.Document, out *Outcome) {
	if doc, err := s.w.store.Get(ctx, model.CollectionWaitlist, entryID); err == nil {
		cur := model.Status(fmt.Sprint(doc[model.FieldStatus]))
		if !cur.Precedes(target) {
			s.log.Warn("entry already advanced", zap.String("entry", entryID), zap.String("status", string(cur)), zap.String("target", string(target)))
			delete(patch, model.FieldStatus)
			delete(patch, model.FieldApprovedAt)
			delete(patch, model.FieldRegisteredAt)
		}
	}
	s.collect(out, s.w.write(ctx, op, model.CollectionWaitlist, entryID, patch))
}

func (s *ProvisioningServiceImpl) collect(out *Outcome, we *errs.StoreWriteError) {
	if we != nil {
		out.FailedWrites = append(out.FailedWrites, we)
	}
}

func (s *ProvisioningServiceImpl) hasLegacyApproval(ctx context.Context, email string) (bool, error) {
	docs, err := s.w.store.List(ctx, model.CollectionLegacyApproved, repository.Where(model.FieldEmail, email))
	if err != nil {
		return false, fmt.Errorf("list legacy approvals: %w", err)
	}
	for _, d := range docs {
		if r, err := model.Decode[model.LegacyApprovedRecord](d); err == nil && r.IsApproved {
			return true, nil
		}
	}
	return false, nil
}

func (s *ProvisioningServiceImpl) approvedEntry(ctx context.Context, email string) (*model.WaitlistEntry, error) {
	docs, err := s.w.store.List(ctx, model.CollectionWaitlist, repository.Where(model.FieldEmail, email))
	if err != nil {
		return nil, fmt.Errorf("list waitlist: %w", err)
	}
	entries, err := Entries(docs)
	if err != nil {
		return nil, fmt.Errorf("decode waitlist: %w", err)
	}
	for i := range entries {
		if entries[i].Status == model.StatusApproved {
			return &entries[i], nil
		}
	}
	return nil, nil
}

// placeholderUID names the records of an account whose real uid is unknown.
func placeholderUID() (string, error) {
	id, err := uuid.NewV4()
	if err != nil {
		return "", err
	}
	return "existing_" + hex.EncodeToString(id.Bytes()), nil
}

func joinWarning(cur, add string) string {
	if cur == "" {
		return add
	}
	return cur + "; " + add
}
