package app

// Key constants for the TUI.
const (
	KeyQuit      = "q"
	KeyCtrlC     = "ctrl+c"
	KeyTab       = "tab"
	KeySpace     = " "
	KeyReset     = "r"
	KeySave      = "s"
	KeyTitle     = "t"
	KeySearch    = "/"
	KeySort      = "o"
	KeyFilter    = "f"
	KeyDelete    = "d"
	KeyRename    = "e"
	KeyDown      = "j"
	KeyUp        = "k"
	KeyEnter     = "enter"
	KeyEsc       = "esc"
	KeyBackspace = "backspace"
)
