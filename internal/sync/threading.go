package sync

import (
	"github.com/hkdb/mailengine/internal/cache"
)

// computeThreadID assigns msg a thread id by looking for an existing
// cached message with a matching Message-ID among its References or
// In-Reply-To chain; if none is found the message starts its own thread,
// identified by its own Message-ID.
//
// Thread membership is computed once per message, at ingest time, by
// looking up its References against cached Message-IDs rather than through
// a standing thread index. The result is stored on the message row and is
// not recomputed at read time: a reply cached before the message it answers
// keeps its own thread id after the earlier message arrives.
func (c *Controller) computeThreadID(msg *cache.Message) (string, error) {
	candidates := append([]string{}, msg.References...)
	if msg.InReplyTo != "" {
		candidates = append(candidates, msg.InReplyTo)
	}

	for _, ref := range candidates {
		existing, err := c.store.FindMessageByMessageID(c.accountID, ref)
		if err != nil {
			if err == cache.ErrNotFound {
				continue
			}
			return "", err
		}
		if existing.ThreadID != "" {
			return existing.ThreadID, nil
		}
		return existing.MessageID, nil
	}

	return msg.MessageID, nil
}
