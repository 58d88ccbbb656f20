// Package generation turns batches of labels into generated content through
// an external language model.
//
// Client renders one prompt per batch, makes one backend call per attempt and
// validates the structure of the reply: a JSON envelope {"items": [...]} with
// one entry per label, in order. Results are correlated to jobs by position
// only; the model may rename a label and the new name is returned as the
// resolved label. Structural problems get exactly one corrective re-prompt,
// for the whole batch when the envelope is wrong and for the affected entries
// only when individual entries are malformed.
//
// Backend is the raw model call. The Gemini implementation lives in
// internal/platform/gemini and classifies failures into the sentinel errors
// declared in errors.go.
package generation
