package model

import "time"

// Action is the kind of mutation planned for a file.
type Action string

const (
	ActionCreate Action = "create"
	ActionModify Action = "modify"
)

// Valid reports whether a is one of the known actions.
func (a Action) Valid() bool {
	return a == ActionCreate || a == ActionModify
}

// Operation represents one planned file mutation before content exists.
type Operation struct {
	File        string `json:"file"`
	Action      Action `json:"action"`
	Explanation string `json:"explanation"`
}

// Verdict is the result of screening synthesized content.
type Verdict struct {
	Safe    bool   `json:"safe"`
	Risk    string `json:"risk,omitempty"`
	Unknown bool   `json:"unknown,omitempty"` // the scanner could not be reached
}

// Flagged reports whether the content was judged unsafe by a working scanner.
func (v Verdict) Flagged() bool {
	return !v.Safe && !v.Unknown
}

// Change is an Operation with synthesized content, ready to apply.
type Change struct {
	Operation
	Content  string  `json:"content"`
	Verdict  Verdict `json:"verdict"`
	Patched  bool    `json:"patched,omitempty"`
	Previous *string `json:"-"` // on-disk content seen at synthesis time
}

// HistoryEntry is the undo record for one applied file mutation.
type HistoryEntry struct {
	File        string    `json:"file"`
	Action      Action    `json:"action"`
	BackupRef   string    `json:"backup_ref,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
	BatchID     string    `json:"batch_id"`
	Risk        string    `json:"risk,omitempty"`
	ContentHash string    `json:"content_hash,omitempty"` // SHA256 of the written content
	CreatedDir  string    `json:"created_dir,omitempty"`  // topmost parent directory the apply created
}

// Skip records an operation that did not make it into the applied batch.
type Skip struct {
	File   string `json:"file"`
	Reason string `json:"reason"`
	Err    error  `json:"-"`
}

// Summary holds the results of an operation for display.
type Summary struct {
	Created  []string `json:"created,omitempty"`
	Modified []string `json:"modified,omitempty"`
	Deleted  []string `json:"deleted,omitempty"`
	Restored []string `json:"restored,omitempty"`
	Flagged  []string `json:"flagged,omitempty"`
	Failed   []string `json:"failed,omitempty"`
	Skipped  []Skip   `json:"skipped,omitempty"`
	Message  string   `json:"message,omitempty"`
}

// Empty reports whether the summary lists no files at all.
func (s Summary) Empty() bool {
	return len(s.Created)+len(s.Modified)+len(s.Deleted)+len(s.Restored)+
		len(s.Failed)+len(s.Skipped) == 0
}
