package roomclient

// UndoHistory tracks local edits of the participant's own code slot.
// Remote updates never go through it. Not safe for concurrent use.
type UndoHistory struct {
	current string
	undo    []string
	redo    []string
}

func NewUndoHistory(initial string) *UndoHistory {
	return &UndoHistory{current: initial}
}

func (h *UndoHistory) Current() string { return h.current }
func (h *UndoHistory) CanUndo() bool   { return len(h.undo) > 0 }
func (h *UndoHistory) CanRedo() bool   { return len(h.redo) > 0 }

// Edit records a local edit: the pre-edit value goes on the undo stack and
// the redo stack is cleared.
func (h *UndoHistory) Edit(next string) {
	h.undo = append(h.undo, h.current)
	h.redo = h.redo[:0]
	h.current = next
}

// Undo returns the restored value, or false when there is nothing to undo.
func (h *UndoHistory) Undo() (string, bool) {
	if len(h.undo) == 0 {
		return "", false
	}
	prev := h.undo[len(h.undo)-1]
	h.undo = h.undo[:len(h.undo)-1]
	h.redo = append(h.redo, h.current)
	h.current = prev
	return prev, true
}

func (h *UndoHistory) Redo() (string, bool) {
	if len(h.redo) == 0 {
		return "", false
	}
	next := h.redo[len(h.redo)-1]
	h.redo = h.redo[:len(h.redo)-1]
	h.undo = append(h.undo, h.current)
	h.current = next
	return next, true
}

// Reset drops both stacks, e.g. after a join snapshot.
func (h *UndoHistory) Reset(code string) {
	h.current = code
	h.undo = nil
	h.redo = nil
}
