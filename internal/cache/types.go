package cache

import "time"

// TLSMode selects how a protocol client negotiates TLS on connect.
type TLSMode string

const (
	TLSNone     TLSMode = "none"
	TLSStartTLS TLSMode = "starttls"
	TLSImplicit TLSMode = "implicit"
)

// AuthType selects how a protocol client authenticates.
type AuthType string

const (
	AuthPassword AuthType = "password"
	AuthOAuth2   AuthType = "oauth2"
)

// Endpoint is a host/port/TLS-mode triple shared by IMAP, SMTP and POP3.
type Endpoint struct {
	Host string
	Port int
	TLS  TLSMode
}

// Account is a configured mail account. SealedPassword is ciphertext
// produced by internal/vault; it is never decrypted except transiently by a
// protocol client that needs it.
type Account struct {
	ID                   string
	DisplayName          string
	Email                string
	IMAP                 Endpoint
	SMTP                 Endpoint
	POP3                 *Endpoint
	POP3DeleteOnServer   bool
	Username             string
	SealedPassword       []byte
	AuthType             AuthType
	Enabled              bool
	IsActive             bool
	CheckIntervalMinutes int
	ProviderTag          string
	Color                string
	LastSyncAt           *time.Time
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// FolderType classifies a mailbox for UI/rule purposes.
type FolderType string

const (
	FolderInbox   FolderType = "inbox"
	FolderSent    FolderType = "sent"
	FolderDrafts  FolderType = "drafts"
	FolderTrash   FolderType = "trash"
	FolderArchive FolderType = "archive"
	FolderCustom  FolderType = "custom"
)

// Folder is one IMAP mailbox synchronized into the cache.
type Folder struct {
	ID             string
	AccountID      string
	Name           string
	Path           string
	Type           FolderType
	UnreadCount    int
	TotalCount     int
	UIDValidity    uint32
	UIDNext        uint32
	HighestUIDSeen uint32
	HighestModSeq  uint64
	LastSync       *time.Time
}

// Flags is the set of IMAP-meaningful flags tracked per message.
type Flags struct {
	Seen     bool
	Flagged  bool
	Deleted  bool
	Draft    bool
	Answered bool
}

// Message is one cached email. Body fields are empty until BodyFetched.
type Message struct {
	LocalID        string
	AccountID      string
	FolderID       string
	UID            uint32
	MessageID      string
	ThreadID       string
	InReplyTo      string
	References     []string
	Subject        string
	FromName       string
	FromEmail      string
	To             []string
	Cc             []string
	Bcc            []string
	DateUTC        time.Time
	BodyPlain      string
	BodyHTML       string
	BodyFetched    bool
	Flags          Flags
	Size           int
	HasAttachments bool
	Snippet        string
}

// Attachment is a single attachment row; Bytes are stored content-addressed
// under the blob directory and referenced by hash.
type Attachment struct {
	LocalID        string
	MessageLocalID string
	Filename       string
	MIME           string
	Size           int
	ContentID      string
	BytesRef       string
}

// Draft is a locally composed, not-yet-sent message.
type Draft struct {
	ID          string
	AccountID   string
	To          []string
	Cc          []string
	Bcc         []string
	Subject     string
	Body        string
	IsHTML      bool
	Attachments []string // blob hash refs
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// OutboxItem is one pending send. Items survive process restart and are
// removed only atomically with a corresponding Sent-folder write.
type OutboxItem struct {
	ID            string
	AccountID     string
	To            []string
	Cc            []string
	Bcc           []string
	From          string
	Subject       string
	Body          string
	IsHTML        bool
	Attachments   []string
	Attempts      int
	LastError     string
	NextAttemptAt time.Time
	Sending       bool
	CreatedAt     time.Time
}

// Tag is a user-defined label applied to messages.
type Tag struct {
	ID        string
	AccountID string
	Name      string
	Color     string
}

// Signature is a named reusable sign-off block.
type Signature struct {
	ID           string
	AccountID    string
	Name         string
	ContentPlain string
	ContentHTML  string
	IsDefault    bool
}

// Contact is an address-book entry, optionally scoped to one account.
type Contact struct {
	ID           string
	AccountID    string // empty means global
	DisplayName  string
	Email        string
	FirstName    string
	LastName     string
	Organization string
	Notes        string
	UsageCount   int
	LastUsedAt   *time.Time
}

// RuleConditionKind enumerates the atoms a Rule's conditions are built from.
type RuleConditionKind string

const (
	CondFromContains    RuleConditionKind = "from_contains"
	CondToContains      RuleConditionKind = "to_contains"
	CondSubjectContains RuleConditionKind = "subject_contains"
	CondBodyContains    RuleConditionKind = "body_contains"
	CondHasAttachment   RuleConditionKind = "has_attachment"
	CondIsUnread        RuleConditionKind = "is_unread"
	CondIsStarred       RuleConditionKind = "is_starred"
	CondDateAfter       RuleConditionKind = "date_after"
	CondDateBefore      RuleConditionKind = "date_before"
)

// RuleCondition is one condition atom; Value is interpreted per Kind (a
// substring for *Contains kinds, an RFC3339 timestamp for Date* kinds,
// unused for boolean kinds).
type RuleCondition struct {
	Kind  RuleConditionKind
	Value string
}

// RuleActionKind enumerates the effects a Rule's actions may have.
type RuleActionKind string

const (
	ActionMoveToFolder RuleActionKind = "move_to_folder"
	ActionApplyTag     RuleActionKind = "apply_tag"
	ActionMarkRead     RuleActionKind = "mark_read"
	ActionMarkStarred  RuleActionKind = "mark_starred"
	ActionDelete       RuleActionKind = "delete"
	ActionForward      RuleActionKind = "forward"
)

// RuleAction is one action; Value is interpreted per Kind (a folder path,
// tag id, or forward address; unused for MarkRead/MarkStarred/Delete).
type RuleAction struct {
	Kind  RuleActionKind
	Value string
}

// ConditionLogic selects how a Rule's conditions combine.
type ConditionLogic string

const (
	LogicAll ConditionLogic = "all"
	LogicAny ConditionLogic = "any"
)

// Rule is one ordered condition/action rule evaluated against newly cached
// messages.
type Rule struct {
	ID             string
	AccountID      string
	Name           string
	Enabled        bool
	Priority       int
	Conditions     []RuleCondition
	ConditionLogic ConditionLogic
	Actions        []RuleAction
	StopOnMatch    bool
	CreatedAt      time.Time
}

// OAuthToken is a sealed OAuth2 credential pair for one account/provider.
type OAuthToken struct {
	AccountID           string
	ProviderTag         string
	AccessTokenSealed   []byte
	RefreshTokenSealed  []byte
	ExpiresAt           time.Time
	Scope               string
}
