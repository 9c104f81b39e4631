package rowfiles

import "strings"

// ValidatePath resolves caller supplied path segments into the
// instance-relative path stored for a scope. The first segment must be the
// app id; it is stripped from the result. Segments are already URL-decoded.
func ValidatePath(appID string, segments []string) (string, error) {
	if len(segments) == 0 {
		return "", InsufficientPathError()
	}
	if strings.TrimSpace(appID) == "" {
		return "", UnrecognizedAppIDError(appID)
	}

	candidate := strings.Join(segments, "/")
	if segments[0] != appID {
		return "", PathNotUnderAppIDError(appID, candidate)
	}

	rest := segments[1:]
	if len(rest) == 0 {
		return "", InsufficientPathError()
	}
	for _, seg := range rest {
		if !validSegment(seg) {
			return "", PathNotUnderAppIDError(appID, candidate)
		}
	}
	return strings.Join(rest, "/"), nil
}

// ValidateWirePath is ValidatePath for a slash separated path string, as sent
// in multipart filenames and manifest entries.
func ValidateWirePath(appID, path string) (string, error) {
	return ValidatePath(appID, SplitPath(path))
}

// SplitPath splits a forward-slash path into segments, ignoring a leading or
// trailing separator. Interior empty segments are kept so validation rejects them.
func SplitPath(path string) []string {
	trimmed := strings.TrimSuffix(strings.TrimPrefix(path, "/"), "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

// WirePath prefixes an instance-relative path with the app id.
func WirePath(appID, path string) string {
	return appID + "/" + path
}

func validSegment(seg string) bool {
	switch seg {
	case "", ".", "..":
		return false
	}
	if strings.ContainsAny(seg, "/\\\x00") {
		return false
	}
	return true
}

// ValidateScope rejects scopes whose components cannot name a storage prefix.
func ValidateScope(scope RowScope) error {
	if !validSegment(scope.AppID) {
		return UnrecognizedAppIDError(scope.AppID)
	}
	for _, part := range []string{scope.TableID, scope.SchemaETag, scope.RowID} {
		if !validSegment(part) {
			return InvalidScopeError(scope)
		}
	}
	return nil
}
