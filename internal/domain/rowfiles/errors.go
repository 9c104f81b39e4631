package rowfiles

import (
	"context"
	"errors"
	"fmt"

	"jan-server/services/attachments-api/internal/utils/platformerrors"
)

// Messages returned to clients. Mobile clients match on these strings.
const (
	MsgInvalidRowID            = "Invalid RowId."
	MsgInsufficientPath        = "Not Enough Path Segments: must be at least 1."
	MsgUnrecognizedAppID       = "Unrecognized app id: "
	MsgPathNotUnderAppID       = "File path is not under app id: "
	MsgMultipartExpected       = "Multipart Form expected."
	MsgMultipartFilesOnly      = "Multipart Form of only file contents expected."
	MsgMultipartFilenameNeeded = "Multipart Form file content must specify instance-relative filename."
	MsgMultipartParseFailed    = "Multipart Form parsing failed."
	MsgManifestEmpty           = "Supplied manifest is missing or specifies no files (empty)."
)

// Error codes carried by PlatformError.Code.
const (
	CodeInsufficientPath  = "insufficient_path"
	CodeUnrecognizedAppID = "unrecognized_app_id"
	CodeInvalidScope      = "invalid_scope"
	CodePathNotUnderAppID = "path_not_under_app_id"
	CodeMultipartExpected = "multipart_expected"
	CodeMultipartParse    = "multipart_parse_failed"
	CodeInvalidPart       = "invalid_part"
	CodeFileTooLarge      = "file_too_large"
	CodeManifestEmpty     = "manifest_empty"
	CodeInvalidManifest   = "invalid_manifest"
	CodePermissionDenied  = "permission_denied"
	CodeLockUnavailable   = "lock_unavailable"
	CodeFileNotFound      = "file_not_found"
	CodeStorage           = "storage_failure"
)

// ErrNothingToSend is returned by Download when the client already holds
// every requested file.
var ErrNothingToSend = errors.New("client manifest already matches requested files")

// ErrLockTimeout is returned by Locker implementations when a lock could not
// be obtained before the deadline.
var ErrLockTimeout = errors.New("lock acquisition timed out")

// ErrLockLost is the cancellation cause of an operation whose lock expired
// while it was running.
var ErrLockLost = errors.New("row lock lost before the operation finished")

func validationError(ctx context.Context, code, message, uuid string, fields map[string]any) *platformerrors.PlatformError {
	return platformerrors.NewErrorWithContext(ctx, platformerrors.LayerDomain, platformerrors.ErrorTypeValidation, message, nil, uuid, fields).WithCode(code)
}

// InsufficientPathError reports an empty segment sequence.
func InsufficientPathError() error {
	return validationError(context.Background(), CodeInsufficientPath, MsgInsufficientPath, "5f0d2c61-8a3e-4f27-9b1a-6c4e2d8f7a10", nil)
}

// UnrecognizedAppIDError reports a scope without a usable app id.
func UnrecognizedAppIDError(appID string) error {
	return validationError(context.Background(), CodeUnrecognizedAppID, MsgUnrecognizedAppID+appID, "a83e7b52-1c9d-4e06-8f3a-27b5d1c4e9f8", map[string]any{"app_id": appID})
}

// PathNotUnderAppIDError reports a path escaping the app namespace.
func PathNotUnderAppIDError(appID, path string) error {
	return validationError(context.Background(), CodePathNotUnderAppID, MsgPathNotUnderAppID+appID, "c2b9e4d7-3f18-4a6c-b05e-9d71a3f2c684", map[string]any{"app_id": appID, "path": path})
}

// InvalidScopeError reports a table, schema or row id that is empty or unsafe.
func InvalidScopeError(scope RowScope) error {
	return validationError(context.Background(), CodeInvalidScope, MsgInvalidRowID, "4e8a1c37-92b5-4d6f-a0e8-c3b7f5d9e216", map[string]any{"scope": scope.String()})
}

// MultipartExpectedError reports a non-multipart upload body.
func MultipartExpectedError(ctx context.Context) error {
	return validationError(ctx, CodeMultipartExpected, MsgMultipartExpected, "0e4f6a19-7b2c-4d83-a5e1-f39c8b2d6a47", nil)
}

// MultipartParseError reports a malformed multipart body.
func MultipartParseError(ctx context.Context, err error) error {
	e := validationError(ctx, CodeMultipartParse, MsgMultipartParseFailed, "71d3a8c5-2e6f-4b90-8c14-5a7e9f0b3d26", nil)
	e.Err = err
	return e
}

// FilesOnlyError reports a form field part inside an upload.
func FilesOnlyError(ctx context.Context, index int) error {
	return validationError(ctx, CodeInvalidPart, MsgMultipartFilesOnly, "9b6e1f04-d5a2-4c38-87f9-3e0c2b7a1d95", map[string]any{"part_index": index})
}

// FilenameExpectedError reports a file part without a filename.
func FilenameExpectedError(ctx context.Context, index int) error {
	return validationError(ctx, CodeInvalidPart, MsgMultipartFilenameNeeded, "e5a07c3b-8f91-4d2e-b6c4-1a9d3e7f2058", map[string]any{"part_index": index})
}

// DuplicatePartError reports the same file path appearing twice in a batch.
func DuplicatePartError(ctx context.Context, index int, path string) error {
	return validationError(ctx, CodeInvalidPart, fmt.Sprintf("Multipart Form contains %s more than once.", path), "3c81d9e6-0a4b-4f75-92d8-6e2b5c1f7a34", map[string]any{"part_index": index, "path": path})
}

// TooManyPartsError reports an upload with more parts than allowed.
func TooManyPartsError(ctx context.Context, count, limit int) error {
	return validationError(ctx, CodeInvalidPart, fmt.Sprintf("Multipart Form contains %d files; at most %d allowed.", count, limit), "a0c6e2f8-7d13-4b59-8e4a-2f9b1d5c3e67", map[string]any{"parts": count, "limit": limit})
}

// FileTooLargeError reports a part exceeding the configured size limit.
func FileTooLargeError(ctx context.Context, path string, limit int64) error {
	return validationError(ctx, CodeFileTooLarge, fmt.Sprintf("File %s exceeds max size of %d bytes.", path, limit), "d48f2a6c-5b3e-4197-a0c2-7e9b1d4f6c83", map[string]any{"path": path, "limit": limit})
}

// ContentTypeTooLongError reports a declared content type that cannot be stored.
func ContentTypeTooLongError(ctx context.Context, index int, path string, limit int) error {
	return validationError(ctx, CodeInvalidPart, fmt.Sprintf("Content type of %s exceeds %d characters.", path, limit), "8d5b3f17-c2e9-4a60-b4d1-0f7a6e2c9b38", map[string]any{"part_index": index, "path": path, "limit": limit})
}

// ManifestEmptyError reports a bulk download naming no files.
func ManifestEmptyError(ctx context.Context) error {
	return validationError(ctx, CodeManifestEmpty, MsgManifestEmpty, "6a2c5e8f-9d14-4b73-8e06-b1f3a7c2d590", nil)
}

// InvalidManifestError reports an undecodable manifest body.
func InvalidManifestError(ctx context.Context, err error) error {
	e := validationError(ctx, CodeInvalidManifest, "Supplied manifest could not be parsed.", "f1e93b27-4c6a-4d08-95b2-8a0d6c3e7f14", nil)
	e.Err = err
	return e
}

// PermissionDeniedError reports a caller lacking access to the scope.
func PermissionDeniedError(ctx context.Context, scope RowScope, access string) error {
	return platformerrors.NewErrorWithContext(ctx, platformerrors.LayerDomain, platformerrors.ErrorTypeForbidden,
		fmt.Sprintf("Permission denied: %s access to %s", access, scope.AppID+"/"+scope.TableID), nil,
		"2d7b4f91-6e3c-48a5-b1d0-c9e5a3f8b267", map[string]any{"scope": scope.String(), "access": access}).WithCode(CodePermissionDenied)
}

// LockUnavailableError reports a lock that could not be obtained. Retryable.
func LockUnavailableError(ctx context.Context, name string, err error) error {
	return platformerrors.NewErrorWithContext(ctx, platformerrors.LayerDomain, platformerrors.ErrorTypeUnavailable,
		"Row is locked by another writer; retry later.", err,
		"84c0e5a3-b7d2-4f16-9a3e-0f6d8c1b5e72", map[string]any{"lock": name}).WithCode(CodeLockUnavailable)
}

// FileNotFoundError reports a path with no stored file.
func FileNotFoundError(ctx context.Context, scope RowScope, path string) error {
	return platformerrors.NewErrorWithContext(ctx, platformerrors.LayerDomain, platformerrors.ErrorTypeNotFound,
		"File not found: "+path, nil,
		"b9f4a2d6-1c85-4e3b-a7f0-5d2e8c6b4a19", map[string]any{"scope": scope.String(), "path": path}).WithCode(CodeFileNotFound)
}

// StorageError reports a backend read or write failure for path.
func StorageError(ctx context.Context, op, path string, err error) error {
	return platformerrors.NewErrorWithContext(ctx, platformerrors.LayerDomain, platformerrors.ErrorTypeExternal,
		fmt.Sprintf("Storage %s failed for %s", op, path), err,
		"57e2c8b0-3d9a-4f61-8b4e-a6c1f0d7e235", map[string]any{"path": path, "operation": op}).WithCode(CodeStorage)
}

// HasCode reports whether err carries the given error code.
func HasCode(err error, code string) bool {
	return platformerrors.HasCode(err, code)
}
