package controller

// Prompter answers the questions the controller cannot decide on its own.
// The CLI implements it over stdin; tests use a canned implementation.
type Prompter interface {
	// ChoosePlaylistMode resolves an ambiguous URL carrying both a video
	// and a list parameter. True selects playlist mode.
	ChoosePlaylistMode(url string) bool

	// ConfirmDuplicate asks whether to download again despite the given
	// duplicate description. True proceeds (overwriting history).
	ConfirmDuplicate(message string) bool

	// ConfirmExcludeDuplicates asks whether to skip n already-downloaded
	// playlist entries. True excludes them.
	ConfirmExcludeDuplicates(n int) bool

	// ConfirmResumeSaved asks whether to restore n tasks persisted by the
	// previous run.
	ConfirmResumeSaved(n int) bool
}
