package mailsync

import "github.com/marchway/mailsync/id"

// ID is the primary identifier type for all mailsync entities.
type ID = id.ID

// Prefix identifies the entity type encoded in a TypeID.
type Prefix = id.Prefix
