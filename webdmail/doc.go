package webdmail

import (
	"github.com/mjl-/sherpadoc"
)

// apiDoc is served at /api/ for the interactive documentation page. Kept in
// sync with the Dmail methods by hand.
var apiDoc = sherpadoc.Section{
	Name: "Dmail",
	Docs: "Dmail is the private messaging API. Authentication of end users is handled by the calling platform, which passes the acting user id.",
	Functions: []*sherpadoc.Function{
		{
			Name: "Send",
			Docs: "Send delivers a message from user fromID to the user with display name to, storing both the sender's and the recipient's copy.",
			Params: []sherpadoc.Arg{
				{Name: "fromID", Typewords: []string{"int64"}},
				{Name: "to", Typewords: []string{"string"}},
				{Name: "title", Typewords: []string{"string"}},
				{Name: "body", Typewords: []string{"string"}},
			},
			Returns: []sherpadoc.Arg{{Name: "r0", Typewords: []string{"SendResult"}}},
		},
		{
			Name: "Automated",
			Docs: "Automated delivers a message from the system user, storing only the recipient's copy.",
			Params: []sherpadoc.Arg{
				{Name: "to", Typewords: []string{"string"}},
				{Name: "title", Typewords: []string{"string"}},
				{Name: "body", Typewords: []string{"string"}},
			},
			Returns: []sherpadoc.Arg{{Name: "r0", Typewords: []string{"SendResult"}}},
		},
		{
			Name: "Message",
			Docs: "Message returns a message copy. The viewer must own the copy, or key must be a capability token that verifies against the recipient. With markRead, an unread message is marked read on this open.",
			Params: []sherpadoc.Arg{
				{Name: "id", Typewords: []string{"int64"}},
				{Name: "viewer", Typewords: []string{"int64"}},
				{Name: "key", Typewords: []string{"string"}},
				{Name: "markRead", Typewords: []string{"bool"}},
			},
			Returns: []sherpadoc.Arg{{Name: "r0", Typewords: []string{"Message"}}},
		},
		{
			Name: "Reply",
			Docs: "Reply returns an unsaved response draft for a message the viewer owns. Submit the draft through Send to deliver it.",
			Params: []sherpadoc.Arg{
				{Name: "id", Typewords: []string{"int64"}},
				{Name: "viewer", Typewords: []string{"int64"}},
				{Name: "forward", Typewords: []string{"bool"}},
			},
			Returns: []sherpadoc.Arg{{Name: "r0", Typewords: []string{"Message"}}},
		},
		{
			Name: "Update",
			Docs: "Update changes flags on a message copy owned by actor. Null leaves a flag unchanged.",
			Params: []sherpadoc.Arg{
				{Name: "id", Typewords: []string{"int64"}},
				{Name: "actor", Typewords: []string{"int64"}},
				{Name: "isRead", Typewords: []string{"nullable", "bool"}},
				{Name: "isSpam", Typewords: []string{"nullable", "bool"}},
				{Name: "isDeleted", Typewords: []string{"nullable", "bool"}},
			},
			Returns: []sherpadoc.Arg{{Name: "r0", Typewords: []string{"Message"}}},
		},
		{
			Name: "MarkAllRead",
			Docs: "MarkAllRead marks all unread messages of the user as read, returning the affected messages, oldest first.",
			Params: []sherpadoc.Arg{
				{Name: "userID", Typewords: []string{"int64"}},
			},
			Returns: []sherpadoc.Arg{{Name: "r0", Typewords: []string{"[]", "Message"}}},
		},
		{
			Name: "UnreadCount",
			Docs: "UnreadCount returns the number of active unread messages owned by the user.",
			Params: []sherpadoc.Arg{
				{Name: "userID", Typewords: []string{"int64"}},
			},
			Returns: []sherpadoc.Arg{{Name: "r0", Typewords: []string{"int64"}}},
		},
		{
			Name: "LatestUnread",
			Docs: "LatestUnread returns the most recent unread message of the user, or null.",
			Params: []sherpadoc.Arg{
				{Name: "userID", Typewords: []string{"int64"}},
			},
			Returns: []sherpadoc.Arg{{Name: "r0", Typewords: []string{"nullable", "Message"}}},
		},
		{
			Name: "Search",
			Docs: "Search returns the user's active messages matching the filters, newest first. Folder is received, sent or empty for both. A * in a match pattern is a wildcard, matching is case-insensitive.",
			Params: []sherpadoc.Arg{
				{Name: "userID", Typewords: []string{"int64"}},
				{Name: "folder", Typewords: []string{"string"}},
				{Name: "titleMatches", Typewords: []string{"string"}},
				{Name: "messageMatches", Typewords: []string{"string"}},
			},
			Returns: []sherpadoc.Arg{{Name: "r0", Typewords: []string{"[]", "Message"}}},
		},
		{
			Name: "Preview",
			Docs: "Preview renders a message body draft to HTML, as it would be displayed.",
			Params: []sherpadoc.Arg{
				{Name: "body", Typewords: []string{"string"}},
			},
			Returns: []sherpadoc.Arg{{Name: "r0", Typewords: []string{"string"}}},
		},
		{
			Name: "Sign",
			Docs: "Sign returns a capability token bound to the user, granting message-view access without logging in. Tokens do not expire.",
			Params: []sherpadoc.Arg{
				{Name: "userID", Typewords: []string{"int64"}},
			},
			Returns: []sherpadoc.Arg{{Name: "r0", Typewords: []string{"string"}}},
		},
		{
			Name: "UserAdd",
			Docs: "UserAdd creates a user with the given display name.",
			Params: []sherpadoc.Arg{
				{Name: "name", Typewords: []string{"string"}},
			},
			Returns: []sherpadoc.Arg{{Name: "r0", Typewords: []string{"User"}}},
		},
		{
			Name: "IsSpammer",
			Docs: "IsSpammer reports whether the user's distinct spam recipient count has reached the autoban threshold.",
			Params: []sherpadoc.Arg{
				{Name: "userID", Typewords: []string{"int64"}},
			},
			Returns: []sherpadoc.Arg{{Name: "r0", Typewords: []string{"bool"}}},
		},
	},
	Sections: []*sherpadoc.Section{},
	Structs: []sherpadoc.Struct{
		{
			Name: "User",
			Docs: "User is a participant in the messaging system.",
			Fields: []sherpadoc.Field{
				{Name: "ID", Typewords: []string{"int64"}},
				{Name: "Name", Typewords: []string{"string"}},
				{Name: "NameLower", Typewords: []string{"string"}},
				{Name: "Created", Typewords: []string{"timestamp"}},
				{Name: "IsBanned", Typewords: []string{"bool"}},
				{Name: "IsSystem", Typewords: []string{"bool"}},
				{Name: "ReceiveEmailNotifications", Typewords: []string{"bool"}},
				{Name: "UnreadDmails", Typewords: []string{"int64"}},
			},
		},
		{
			Name: "Message",
			Docs: "Message is one stored copy of a dmail.",
			Fields: []sherpadoc.Field{
				{Name: "ID", Typewords: []string{"int64"}},
				{Name: "Created", Typewords: []string{"timestamp"}},
				{Name: "CreatorIP", Typewords: []string{"string"}},
				{Name: "FromID", Typewords: []string{"int64"}},
				{Name: "ToID", Typewords: []string{"int64"}},
				{Name: "OwnerID", Typewords: []string{"int64"}},
				{Name: "Title", Typewords: []string{"string"}},
				{Name: "Body", Typewords: []string{"string"}},
				{Name: "IsRead", Typewords: []string{"bool"}},
				{Name: "IsSpam", Typewords: []string{"bool"}},
				{Name: "IsDeleted", Typewords: []string{"bool"}},
			},
		},
		{
			Name: "SendResult",
			Docs: "SendResult is the outcome of a send attempt.",
			Fields: []sherpadoc.Field{
				{Name: "Sent", Typewords: []string{"Message"}},
				{Name: "Received", Typewords: []string{"Message"}},
				{Name: "Errors", Typewords: []string{"{}", "[]", "string"}},
			},
		},
	},
	Ints:    []sherpadoc.Ints{},
	Strings: []sherpadoc.Strings{},
}
