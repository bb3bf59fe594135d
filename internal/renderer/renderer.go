package renderer

import (
	"strconv"
	"strings"
	"time"

	"github.com/shipdesk/shipnotify/internal/core_shipping/domain"
)

// Message is one rendered outbound message for a recipient group. The slice
// returned by Render preserves first-seen recipient order, which is also the
// dispatch order.
type Message struct {
	Recipient string
	Body      string
	Group     domain.RecipientGroup
}

// GroupByRecipient groups records by recipient key, preserving first-seen
// order of recipients and of records within each recipient.
func GroupByRecipient(records []domain.ShipmentRecord) []domain.RecipientGroup {
	index := make(map[string]int)
	var groups []domain.RecipientGroup
	for _, rec := range records {
		i, ok := index[rec.Recipient]
		if !ok {
			i = len(groups)
			index[rec.Recipient] = i
			groups = append(groups, domain.RecipientGroup{Recipient: rec.Recipient})
		}
		groups[i].Records = append(groups[i].Records, rec)
	}
	return groups
}

// Render groups the records and expands the template once per recipient.
// It is deterministic for a fixed now, mutates nothing and performs no I/O;
// now only feeds the optional {today} placeholder.
func Render(records []domain.ShipmentRecord, template string, now time.Time) []Message {
	groups := GroupByRecipient(records)
	messages := make([]Message, 0, len(groups))
	for _, group := range groups {
		messages = append(messages, Message{
			Recipient: group.Recipient,
			Body:      expand(template, buildContext(group, now)),
			Group:     group,
		})
	}
	return messages
}

// buildContext assembles the per-recipient aggregate the template can draw
// from: recipient name, item count, distinct order identifiers in first-seen
// order, a per-record item list, and today's date.
func buildContext(group domain.RecipientGroup, now time.Time) map[string]string {
	orders := make([]string, 0, len(group.Records))
	seen := make(map[string]bool)
	items := make([]string, 0, len(group.Records))
	for _, rec := range group.Records {
		if code := rec.Attributes["order_code"]; code != "" && !seen[code] {
			seen[code] = true
			orders = append(orders, code)
		}
		item := rec.Attributes["item"]
		if item == "" {
			item = rec.Attributes["order_code"]
		}
		if qty := rec.Attributes["quantity"]; qty != "" && item != "" {
			item += " x" + qty
		}
		if item != "" {
			items = append(items, "- "+item)
		}
	}

	return map[string]string{
		"name":   group.Recipient,
		"count":  strconv.Itoa(len(group.Records)),
		"orders": strings.Join(orders, ", "),
		"items":  strings.Join(items, "\n"),
		"today":  now.Format("2006-01-02"),
	}
}

// expand substitutes {field} tokens from ctx. Unknown fields become the empty
// string; braces that do not wrap a well-formed token are kept literally.
func expand(template string, ctx map[string]string) string {
	var b strings.Builder
	b.Grow(len(template))
	for i := 0; i < len(template); {
		open := strings.IndexByte(template[i:], '{')
		if open < 0 {
			b.WriteString(template[i:])
			break
		}
		open += i
		b.WriteString(template[i:open])

		close := strings.IndexByte(template[open:], '}')
		if close < 0 {
			b.WriteString(template[open:])
			break
		}
		close += open

		token := template[open+1 : close]
		if isFieldName(token) {
			b.WriteString(ctx[token]) // unknown fields resolve to ""
		} else {
			b.WriteString(template[open : close+1])
		}
		i = close + 1
	}
	return b.String()
}

func isFieldName(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
		default:
			return false
		}
	}
	return true
}
