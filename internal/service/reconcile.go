package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/and161185/waitgate/internal/errs"
	"github.com/and161185/waitgate/internal/model"
	"github.com/and161185/waitgate/internal/permissions"
	"github.com/and161185/waitgate/internal/repository"
)

// BootstrapAdmin identifies the account that is always an administrator.
// When ID is empty the account is located by Email.
type BootstrapAdmin struct {
	ID    string
	Email string
}

// bootstrapNamespace derives a stable uid for an email-only bootstrap admin.
var bootstrapNamespace = uuid.Must(uuid.FromString("6f1c2a52-4b1e-4c55-9a43-0c7f0f7b9e21"))

// ReconciliationService repairs the user collections and replays failed writes.
type ReconciliationService interface {
	// Run performs the reconciliation sweep and returns users newest first.
	Run(ctx context.Context) (*SweepResult, error)
	// ResolvePermissions returns the effective permissions of userID.
	ResolvePermissions(ctx context.Context, userID string) (map[model.PermissionKey]bool, error)
	// Authorize returns ErrForbidden unless userID may exercise key.
	Authorize(ctx context.Context, userID string, key model.PermissionKey) error
	// ReplayFailedWrites re-applies journaled writes, oldest first.
	ReplayFailedWrites(ctx context.Context) (*ReplayResult, error)
}

// SweepResult is returned by Run.
type SweepResult struct {
	Users        []model.UserRecord
	Writes       int
	FailedWrites []*errs.StoreWriteError
}

// ReplayResult is returned by ReplayFailedWrites.
type ReplayResult struct {
	Replayed int
	// Skipped counts patches dropped because they would move an entry backward.
	Skipped int
	Failed  int
}

type ReconciliationServiceImpl struct {
	w     writer
	admin BootstrapAdmin
	keys  permissions.Set
	log   *zap.Logger
	opts  options
}

// NewReconciliationService constructs ReconciliationService.
func NewReconciliationService(st Stores, admin BootstrapAdmin, keys permissions.Set, log *zap.Logger, opts ...Option) *ReconciliationServiceImpl {
	o := buildOptions(opts)
	admin.Email = normalizeEmail(admin.Email)
	if len(keys) == 0 {
		keys = permissions.DefaultSet()
	}
	return &ReconciliationServiceImpl{
		w:     writer{store: st.Records, journal: st.Journal, log: log, now: o.now},
		admin: admin,
		keys:  keys,
		log:   log,
		opts:  o,
	}
}

type queuedWrite struct {
	id    string
	patch model.Document
}

// Run loads users and legacy approvals, queues repairs, applies them and
// returns the reconciled list. A second run without external changes queues
// nothing.
func (s *ReconciliationServiceImpl) Run(ctx context.Context) (*SweepResult, error) {
	users, seen, err := s.loadUsers(ctx)
	if err != nil {
		return nil, err
	}
	legacy, err := s.loadLegacy(ctx)
	if err != nil {
		return nil, err
	}

	current := make(map[string]model.UserRecord, len(users))
	planned := make(map[string]model.UserRecord, len(users))
	for _, u := range users {
		current[u.ID] = u
		planned[u.ID] = u
	}
	now := s.opts.now().UTC()

	var queue []queuedWrite
	enqueue := func(id string, patch model.Document) {
		for i := range queue {
			if queue[i].id == id {
				for k, v := range patch {
					queue[i].patch[k] = v
				}
				return
			}
		}
		queue = append(queue, queuedWrite{id: id, patch: patch})
	}

	for _, l := range legacy {
		if _, ok := planned[l.ID]; ok || seen[l.ID] {
			continue
		}
		created := l.ApprovedAt
		if created.IsZero() {
			created = now
		}
		u := model.UserRecord{
			ID:         l.ID,
			Email:      l.Email,
			Role:       model.RoleRegular,
			IsApproved: l.IsApproved,
			TempSecret: l.TempSecret,
			CreatedAt:  created,
			UpdatedAt:  now,
		}
		patch := model.Document{
			model.FieldEmail:      u.Email,
			model.FieldRole:       u.Role,
			model.FieldIsApproved: u.IsApproved,
			model.FieldCreatedAt:  u.CreatedAt,
			model.FieldUpdatedAt:  u.UpdatedAt,
		}
		if u.TempSecret != "" {
			patch[model.FieldTempSecret] = u.TempSecret
		}
		planned[u.ID] = u
		enqueue(u.ID, patch)
	}

	for _, fix := range s.bootstrapRepairs(ctx, planned, now) {
		planned[fix.user.ID] = fix.user
		enqueue(fix.user.ID, fix.patch)
	}

	ids := make([]string, 0, len(planned))
	for id := range planned {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		u := planned[id]
		if !permissions.NeedsRepair(u) {
			continue
		}
		u.Permissions = s.keys.Full()
		u.UpdatedAt = now
		planned[id] = u
		enqueue(id, model.Document{
			model.FieldPermissions: u.Permissions,
			model.FieldUpdatedAt:   now,
		})
	}

	res := &SweepResult{}
	for _, q := range queue {
		if we := s.w.write(ctx, "sweep", model.CollectionUsers, q.id, q.patch); we != nil {
			res.FailedWrites = append(res.FailedWrites, we)
			continue
		}
		res.Writes++
		current[q.id] = planned[q.id]
	}
	if len(queue) > 0 {
		s.log.Info("reconciliation applied", zap.Int("writes", res.Writes), zap.Int("failed", len(res.FailedWrites)))
	}

	res.Users = make([]model.UserRecord, 0, len(current))
	for _, u := range current {
		res.Users = append(res.Users, u)
	}
	model.SortUsersByRecency(res.Users)
	return res, nil
}

type bootstrapFix struct {
	user  model.UserRecord
	patch model.Document
}

// bootstrapRepairs returns the writes that make the bootstrap admin an
// approved admin holding every permission. In email mode every record with
// the bootstrap email is repaired, so a placeholder record never hides the
// record of the real account.
func (s *ReconciliationServiceImpl) bootstrapRepairs(ctx context.Context, users map[string]model.UserRecord, now time.Time) []bootstrapFix {
	matches := s.findBootstrap(users)
	full := s.keys.Full()
	if len(matches) == 0 {
		id := s.bootstrapID(ctx)
		if id == "" {
			return nil
		}
		u := model.UserRecord{
			ID:          id,
			Email:       s.admin.Email,
			Role:        model.RoleAdmin,
			IsApproved:  true,
			Permissions: full,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		patch := model.Document{
			model.FieldRole:        u.Role,
			model.FieldIsApproved:  true,
			model.FieldPermissions: full,
			model.FieldCreatedAt:   now,
			model.FieldUpdatedAt:   now,
		}
		if u.Email != "" {
			patch[model.FieldEmail] = u.Email
		}
		return []bootstrapFix{{user: u, patch: patch}}
	}

	var out []bootstrapFix
	for _, cur := range matches {
		if cur.Role == model.RoleAdmin && cur.IsApproved && grantsAll(cur.Permissions, s.keys) {
			continue
		}
		s.log.Warn("bootstrap admin record repaired", zap.String("uid", cur.ID), zap.String("role", string(cur.Role)))
		cur.Role = model.RoleAdmin
		cur.IsApproved = true
		cur.Permissions = full
		cur.UpdatedAt = now
		out = append(out, bootstrapFix{user: cur, patch: model.Document{
			model.FieldRole:        model.RoleAdmin,
			model.FieldIsApproved:  true,
			model.FieldPermissions: full,
			model.FieldUpdatedAt:   now,
		}})
	}
	return out
}

// bootstrapID picks the uid for a missing bootstrap record: the configured
// id, the provider uid of the bootstrap email, or an id derived from the
// email when the provider does not know it yet.
func (s *ReconciliationServiceImpl) bootstrapID(ctx context.Context) string {
	if s.admin.ID != "" {
		return s.admin.ID
	}
	if s.admin.Email == "" {
		return ""
	}
	if s.opts.lookup != nil {
		uid, found, err := s.opts.lookup.LookupAccount(ctx, s.admin.Email)
		switch {
		case err != nil:
			s.log.Warn("bootstrap admin lookup failed", zap.Error(err))
		case found:
			return uid
		}
	}
	return uuid.NewV5(bootstrapNamespace, s.admin.Email).String()
}

// findBootstrap returns the stored bootstrap records sorted by id.
func (s *ReconciliationServiceImpl) findBootstrap(users map[string]model.UserRecord) []model.UserRecord {
	var match []model.UserRecord
	for _, u := range users {
		if s.isBootstrap(u) {
			match = append(match, u)
		}
	}
	sort.Slice(match, func(i, j int) bool { return match[i].ID < match[j].ID })
	return match
}

func (s *ReconciliationServiceImpl) isBootstrap(u model.UserRecord) bool {
	if s.admin.ID != "" {
		return u.ID == s.admin.ID
	}
	return s.admin.Email != "" && normalizeEmail(u.Email) == s.admin.Email
}

// isBootstrapUID reports whether userID belongs to the bootstrap admin when
// no user record exists for it.
func (s *ReconciliationServiceImpl) isBootstrapUID(ctx context.Context, userID string) (bool, error) {
	if s.admin.ID != "" {
		return s.admin.ID == userID, nil
	}
	if s.admin.Email == "" || s.opts.lookup == nil {
		return false, nil
	}
	uid, found, err := s.opts.lookup.LookupAccount(ctx, s.admin.Email)
	if err != nil {
		return false, &errs.ProviderError{Op: "lookup", Err: err}
	}
	return found && uid == userID, nil
}

func grantsAll(perms map[model.PermissionKey]bool, keys permissions.Set) bool {
	for k := range keys {
		if !perms[k] {
			return false
		}
	}
	return true
}

// loadUsers decodes the users collection. Undecodable documents are skipped
// but their ids are reported in seen so nothing is synthesized over them.
func (s *ReconciliationServiceImpl) loadUsers(ctx context.Context) ([]model.UserRecord, map[string]bool, error) {
	docs, err := s.w.store.List(ctx, model.CollectionUsers, repository.Query{})
	if err != nil {
		return nil, nil, fmt.Errorf("list users: %w", err)
	}
	out := make([]model.UserRecord, 0, len(docs))
	seen := make(map[string]bool, len(docs))
	for _, d := range docs {
		id := fmt.Sprint(d[model.FieldID])
		seen[id] = true
		u, err := model.Decode[model.UserRecord](d)
		if err != nil {
			s.log.Warn("skip undecodable user", zap.String("id", id), zap.Error(err))
			continue
		}
		out = append(out, u)
	}
	return out, seen, nil
}

func (s *ReconciliationServiceImpl) loadLegacy(ctx context.Context) ([]model.LegacyApprovedRecord, error) {
	docs, err := s.w.store.List(ctx, model.CollectionLegacyApproved, repository.Query{})
	if err != nil {
		return nil, fmt.Errorf("list legacy approvals: %w", err)
	}
	out := make([]model.LegacyApprovedRecord, 0, len(docs))
	for _, d := range docs {
		l, err := model.Decode[model.LegacyApprovedRecord](d)
		if err != nil || l.ID == "" {
			s.log.Warn("skip undecodable legacy approval", zap.Any("id", d[model.FieldID]), zap.Error(err))
			continue
		}
		out = append(out, l)
	}
	return out, nil
}

// ResolvePermissions loads userID and resolves its effective permissions.
// The bootstrap admin always resolves to the full set, even before its
// record exists.
func (s *ReconciliationServiceImpl) ResolvePermissions(ctx context.Context, userID string) (map[model.PermissionKey]bool, error) {
	u, err := s.effectiveUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	return permissions.Resolve(u, s.keys), nil
}

// Authorize succeeds when userID is an admin, or an approved user whose
// effective permissions grant key. Otherwise it returns ErrForbidden.
func (s *ReconciliationServiceImpl) Authorize(ctx context.Context, userID string, key model.PermissionKey) error {
	u, err := s.effectiveUser(ctx, userID)
	if err != nil {
		return err
	}
	if u.Role == model.RoleAdmin {
		return nil
	}
	if !u.IsApproved || !permissions.Resolve(u, s.keys)[key] {
		return fmt.Errorf("%w: %s lacks %s", errs.ErrForbidden, userID, key)
	}
	return nil
}

// effectiveUser loads userID. The bootstrap admin comes back as an approved
// admin whatever its stored record says, or without one.
func (s *ReconciliationServiceImpl) effectiveUser(ctx context.Context, userID string) (model.UserRecord, error) {
	if userID == "" {
		return model.UserRecord{}, fmt.Errorf("%w: empty user id", errs.ErrValidation)
	}
	doc, err := s.w.store.Get(ctx, model.CollectionUsers, userID)
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			ok, berr := s.isBootstrapUID(ctx, userID)
			if berr != nil {
				return model.UserRecord{}, berr
			}
			if ok {
				return model.UserRecord{ID: userID, Email: s.admin.Email, Role: model.RoleAdmin, IsApproved: true}, nil
			}
		}
		return model.UserRecord{}, fmt.Errorf("load user %s: %w", userID, err)
	}
	u, err := model.Decode[model.UserRecord](doc)
	if err != nil {
		return model.UserRecord{}, fmt.Errorf("decode user %s: %w", userID, err)
	}
	u.ID = userID
	if s.isBootstrap(u) {
		u.Role = model.RoleAdmin
		u.IsApproved = true
	}
	return u, nil
}

// ReplayFailedWrites re-applies unresolved journal entries in order. A
// waitlist patch whose status ranks below the stored status is skipped and
// resolved; a patch that fails again stays pending.
func (s *ReconciliationServiceImpl) ReplayFailedWrites(ctx context.Context) (*ReplayResult, error) {
	if s.w.journal == nil {
		return &ReplayResult{}, nil
	}
	pending, err := s.w.journal.Pending(ctx)
	if err != nil {
		return nil, fmt.Errorf("load journal: %w", err)
	}
	res := &ReplayResult{}
	for _, e := range pending {
		if s.regresses(ctx, e) {
			s.log.Warn("skip journaled write that would regress status",
				zap.String("collection", e.Collection), zap.String("id", e.DocID), zap.String("op", e.Op))
			res.Skipped++
		} else if err := s.w.store.MergeWrite(ctx, e.Collection, e.DocID, e.Patch); err != nil {
			s.log.Error("replay failed",
				zap.String("collection", e.Collection), zap.String("id", e.DocID), zap.String("op", e.Op), zap.Error(err))
			res.Failed++
			continue
		} else {
			res.Replayed++
		}
		if err := s.w.journal.Resolve(ctx, e.ID, s.opts.now().UTC()); err != nil {
			return res, fmt.Errorf("resolve journal entry %s: %w", e.ID, err)
		}
	}
	return res, nil
}

func (s *ReconciliationServiceImpl) regresses(ctx context.Context, e model.JournalEntry) bool {
	if e.Collection != model.CollectionWaitlist {
		return false
	}
	raw, ok := e.Patch[model.FieldStatus]
	if !ok {
		return false
	}
	next := model.Status(fmt.Sprint(raw))
	doc, err := s.w.store.Get(ctx, model.CollectionWaitlist, e.DocID)
	if err != nil {
		return false
	}
	cur := model.Status(fmt.Sprint(doc[model.FieldStatus]))
	return next.Rank() < cur.Rank()
}
