package rowfiles

import (
	"context"
	"errors"
	"io"
	"strings"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("attachments-api/rowfiles")

// Service orchestrates the row attachment operations exposed over HTTP.
type Service struct {
	repo     Repository
	manifest *ManifestBuilder
	transfer *Transfer
	locks    *LockCoordinator
	perms    PermissionEvaluator
	recorder Recorder
	log      zerolog.Logger
}

func NewService(
	repo Repository,
	storage Storage,
	transfer *Transfer,
	locks *LockCoordinator,
	perms PermissionEvaluator,
	recorder Recorder,
	log zerolog.Logger,
) *Service {
	if perms == nil {
		perms = AllowAll{}
	}
	if recorder == nil {
		recorder = nopRecorder{}
	}
	return &Service{
		repo:     repo,
		manifest: NewManifestBuilder(repo, storage),
		transfer: transfer,
		locks:    locks,
		perms:    perms,
		recorder: recorder,
		log:      log.With().Str("component", "rowfiles-service").Logger(),
	}
}

func (s *Service) startSpan(ctx context.Context, name string, scope RowScope) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithAttributes(
		attribute.String("rowfiles.app_id", scope.AppID),
		attribute.String("rowfiles.table_id", scope.TableID),
		attribute.String("rowfiles.row_id", scope.RowID),
	))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func (s *Service) authorize(ctx context.Context, caller Caller, scope RowScope, write bool) error {
	if err := ValidateScope(scope); err != nil {
		return err
	}
	if write {
		return s.perms.CheckWriteAccess(ctx, scope, caller)
	}
	return s.perms.CheckReadAccess(ctx, scope, caller)
}

// GetManifest returns the current files of the scope.
func (s *Service) GetManifest(ctx context.Context, caller Caller, scope RowScope) (_ *Manifest, err error) {
	ctx, span := s.startSpan(ctx, "rowfiles.GetManifest", scope)
	defer func() { endSpan(span, err) }()

	if err = s.authorize(ctx, caller, scope, false); err != nil {
		return nil, err
	}
	return s.manifest.Build(ctx, scope)
}

// Diff compares a client manifest with the scope and reports what each side lacks.
func (s *Service) Diff(ctx context.Context, caller Caller, scope RowScope, client *Manifest) (_ DiffResult, err error) {
	ctx, span := s.startSpan(ctx, "rowfiles.Diff", scope)
	defer func() { endSpan(span, err) }()

	if err = s.authorize(ctx, caller, scope, false); err != nil {
		return DiffResult{}, err
	}
	normalized, err := normalizeManifest(scope, client)
	if err != nil {
		return DiffResult{}, err
	}
	server, err := s.manifest.Build(ctx, scope)
	if err != nil {
		return DiffResult{}, err
	}
	return Diff(server, normalized), nil
}

// Download packs the requested files. Requested entries carrying a hash the
// server already holds are skipped; ErrNothingToSend is returned when no file
// remains.
func (s *Service) Download(ctx context.Context, caller Caller, scope RowScope, requested *Manifest) (_ *TransferBatch, err error) {
	ctx, span := s.startSpan(ctx, "rowfiles.Download", scope)
	defer func() {
		s.recordTransfer("download", err, 0, 0)
		endSpan(span, err)
	}()

	if err = s.authorize(ctx, caller, scope, false); err != nil {
		return nil, err
	}
	if requested == nil || len(requested.Files) == 0 {
		return nil, ManifestEmptyError(ctx)
	}
	wanted, err := normalizeManifest(scope, requested)
	if err != nil {
		return nil, err
	}

	server, err := s.manifest.Build(ctx, scope)
	if err != nil {
		return nil, err
	}

	subset := &Manifest{Scope: scope}
	known := &Manifest{Scope: scope}
	seen := make(map[string]struct{}, len(wanted.Files))
	for _, want := range wanted.Files {
		if _, dup := seen[want.Path]; dup {
			continue
		}
		seen[want.Path] = struct{}{}
		entry, ok := server.Lookup(want.Path)
		if !ok {
			return nil, FileNotFoundError(ctx, scope, want.Path)
		}
		subset.Files = append(subset.Files, entry)
		if want.ContentHash != "" {
			known.Files = append(known.Files, want)
		}
	}

	plan := Diff(subset, known)
	if len(plan.ToSend) == 0 {
		return nil, ErrNothingToSend
	}

	batch, err := s.transfer.Assemble(ctx, scope, plan.ToSend)
	if err != nil {
		return nil, err
	}
	s.recorder.RecordTransfer("download", "ok", len(batch.Parts), batch.TotalBytes())
	return batch, nil
}

// Upload validates every part, then commits the batch under the scope lock.
// The batch either lands in full or leaves the manifest untouched.
func (s *Service) Upload(ctx context.Context, caller Caller, scope RowScope, parts []RawPart) (_ *TransferBatch, err error) {
	ctx, span := s.startSpan(ctx, "rowfiles.Upload", scope)
	defer func() {
		s.recordTransfer("upload", err, 0, 0)
		endSpan(span, err)
	}()

	if err = s.authorize(ctx, caller, scope, true); err != nil {
		return nil, err
	}
	batch, err := s.transfer.Disassemble(ctx, parts, scope)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.Int("rowfiles.parts", len(batch.Parts)))

	err = s.locks.WithLock(ctx, scope, func(ctx context.Context) error {
		return s.transfer.Commit(ctx, batch)
	})
	if err != nil {
		return batch, err
	}

	s.recorder.RecordTransfer("upload", "ok", len(batch.Parts), batch.TotalBytes())
	s.log.Info().
		Str("scope", scope.String()).
		Str("subject", caller.Subject).
		Int("files", len(batch.Parts)).
		Int64("bytes", batch.TotalBytes()).
		Msg("row files uploaded")
	return batch, nil
}

// GetFile opens a single stored file. The caller closes the reader.
func (s *Service) GetFile(ctx context.Context, caller Caller, scope RowScope, segments []string) (_ *FileEntry, _ io.ReadCloser, err error) {
	ctx, span := s.startSpan(ctx, "rowfiles.GetFile", scope)
	defer func() { endSpan(span, err) }()

	if err = s.authorize(ctx, caller, scope, false); err != nil {
		return nil, nil, err
	}
	path, err := ValidatePath(scope.AppID, segments)
	if err != nil {
		return nil, nil, err
	}

	entry, err := s.repo.FindByPath(ctx, scope, path)
	if err != nil {
		return nil, nil, err
	}
	if entry == nil {
		return nil, nil, FileNotFoundError(ctx, scope, path)
	}

	current, reader, contentType, err := s.transfer.Open(ctx, scope, *entry)
	if err != nil {
		return nil, nil, err
	}
	if current.ContentType == "" {
		current.ContentType = contentType
	}
	return &current, reader, nil
}

// PutFile stores a single file under the scope lock.
func (s *Service) PutFile(ctx context.Context, caller Caller, scope RowScope, segments []string, data []byte, contentType string) (_ *FileEntry, err error) {
	ctx, span := s.startSpan(ctx, "rowfiles.PutFile", scope)
	defer func() { endSpan(span, err) }()

	if err = s.authorize(ctx, caller, scope, true); err != nil {
		return nil, err
	}
	path, err := ValidatePath(scope.AppID, segments)
	if err != nil {
		return nil, err
	}

	batch, err := s.transfer.Disassemble(ctx, []RawPart{{
		FileName:    WirePath(scope.AppID, path),
		ContentType: contentType,
		Data:        data,
	}}, scope)
	if err != nil {
		return nil, err
	}

	err = s.locks.WithLock(ctx, scope, func(ctx context.Context) error {
		return s.transfer.Commit(ctx, batch)
	})
	if err != nil {
		return nil, err
	}
	s.recorder.RecordTransfer("upload", "ok", 1, int64(len(data)))
	entry := batch.Parts[0].Entry
	return &entry, nil
}

func (s *Service) recordTransfer(direction string, err error, files int, bytes int64) {
	if err == nil || errors.Is(err, ErrNothingToSend) {
		return
	}
	s.recorder.RecordTransfer(direction, "error", files, bytes)
}

// normalizeManifest validates the instance-relative paths of a client manifest.
func normalizeManifest(scope RowScope, client *Manifest) (*Manifest, error) {
	out := &Manifest{Scope: scope}
	if client == nil {
		return out, nil
	}
	out.Files = make([]FileEntry, 0, len(client.Files))
	for _, f := range client.Files {
		path, err := ValidatePath(scope.AppID, append([]string{scope.AppID}, SplitPath(f.Path)...))
		if err != nil {
			return nil, err
		}
		f.Path = path
		f.ContentHash = strings.TrimSpace(f.ContentHash)
		out.Files = append(out.Files, f)
	}
	return out, nil
}
