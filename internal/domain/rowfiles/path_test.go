package rowfiles_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jan-server/services/attachments-api/internal/domain/rowfiles"
	"jan-server/services/attachments-api/internal/utils/platformerrors"
)

func TestValidatePath(t *testing.T) {
	tests := []struct {
		name     string
		appID    string
		segments []string
		want     string
		code     string
	}{
		{name: "single file", appID: "default", segments: []string{"default", "photo.jpg"}, want: "photo.jpg"},
		{name: "nested file", appID: "default", segments: []string{"default", "media", "2024", "a.png"}, want: "media/2024/a.png"},
		{name: "empty sequence", appID: "default", segments: nil, code: rowfiles.CodeInsufficientPath},
		{name: "app id only", appID: "default", segments: []string{"default"}, code: rowfiles.CodeInsufficientPath},
		{name: "other app", appID: "default", segments: []string{"survey", "a.jpg"}, code: rowfiles.CodePathNotUnderAppID},
		{name: "relative start", appID: "default", segments: []string{"..", "default", "a.jpg"}, code: rowfiles.CodePathNotUnderAppID},
		{name: "parent traversal", appID: "default", segments: []string{"default", "..", "escape.jpg"}, code: rowfiles.CodePathNotUnderAppID},
		{name: "dot segment", appID: "default", segments: []string{"default", ".", "a.jpg"}, code: rowfiles.CodePathNotUnderAppID},
		{name: "empty segment", appID: "default", segments: []string{"default", "", "a.jpg"}, code: rowfiles.CodePathNotUnderAppID},
		{name: "backslash", appID: "default", segments: []string{"default", `..\a.jpg`}, code: rowfiles.CodePathNotUnderAppID},
		{name: "blank app id", appID: " ", segments: []string{"default", "a.jpg"}, code: rowfiles.CodeUnrecognizedAppID},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := rowfiles.ValidatePath(tt.appID, tt.segments)
			if tt.code != "" {
				require.Error(t, err)
				assert.True(t, rowfiles.HasCode(err, tt.code), "expected %s, got %v", tt.code, err)
				assert.True(t, platformerrors.IsErrorType(err, platformerrors.ErrorTypeValidation))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestValidatePathMessages(t *testing.T) {
	_, err := rowfiles.ValidatePath("default", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), rowfiles.MsgInsufficientPath)

	_, err = rowfiles.ValidatePath("default", []string{"other", "a.jpg"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), rowfiles.MsgPathNotUnderAppID+"default")
}

func TestValidateWirePath(t *testing.T) {
	got, err := rowfiles.ValidateWirePath("default", "/default/media/a.jpg")
	require.NoError(t, err)
	assert.Equal(t, "media/a.jpg", got)

	_, err = rowfiles.ValidateWirePath("default", "default/../escape.jpg")
	assert.True(t, rowfiles.HasCode(err, rowfiles.CodePathNotUnderAppID))

	_, err = rowfiles.ValidateWirePath("default", "")
	assert.True(t, rowfiles.HasCode(err, rowfiles.CodeInsufficientPath))
}

func TestSplitPathKeepsInteriorEmptySegments(t *testing.T) {
	assert.Nil(t, rowfiles.SplitPath("/"))
	assert.Equal(t, []string{"a", "b"}, rowfiles.SplitPath("/a/b/"))
	assert.Equal(t, []string{"a", "", "b"}, rowfiles.SplitPath("a//b"))
}

func TestValidateScope(t *testing.T) {
	require.NoError(t, rowfiles.ValidateScope(rowfiles.NewRowScope("default", "plot", "etag", "uuid:1")))

	err := rowfiles.ValidateScope(rowfiles.NewRowScope("", "plot", "etag", "row"))
	assert.True(t, rowfiles.HasCode(err, rowfiles.CodeUnrecognizedAppID))

	err = rowfiles.ValidateScope(rowfiles.NewRowScope("default", "plot", "etag", ".."))
	assert.True(t, rowfiles.HasCode(err, rowfiles.CodeInvalidScope))
	assert.Contains(t, err.Error(), rowfiles.MsgInvalidRowID)

	err = rowfiles.ValidateScope(rowfiles.NewRowScope("default", "a/b", "etag", "row"))
	assert.True(t, rowfiles.HasCode(err, rowfiles.CodeInvalidScope))
}

func TestLockName(t *testing.T) {
	scope := rowfiles.NewRowScope("default", "plot", "etag", "row1")
	assert.Equal(t, "rowfiles:default:plot:etag:row1", scope.LockName(rowfiles.LockPerRow))
	assert.Equal(t, "rowfiles:default:plot", scope.LockName(rowfiles.LockPerTable))
}
