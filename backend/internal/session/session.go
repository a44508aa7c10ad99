// Package session carries the per-request caller context. It is passed
// explicitly to every repository operation; there is no ambient state.
package session

// Session describes the caller of a repository operation: the preferred
// language used for multi-language field restriction and error messages,
// and the caller's identity and rank consumed by authorization checks that
// live outside this core.
type Session struct {
	Language string
	Caller   string
	Rank     int
}

// New returns a session for the given language and caller.
func New(language, caller string) Session {
	return Session{Language: language, Caller: caller}
}

// LanguageOr returns the session language, or the given fallback when the
// session carries none.
func (s Session) LanguageOr(fallback string) string {
	if s.Language == "" {
		return fallback
	}
	return s.Language
}
