package llm

import (
	"strings"

	"github.com/GriffinCanCode/voicenote/internal/contacts"
)

const namesSystemPrompt = `You extract the names of people mentioned in a spoken voice note.
Return only JSON of the form {"names": ["First Last", ...]}.
Include each person once, as they were referred to. Do not include the speaker.
If nobody is mentioned return {"names": []}.`

const entitiesSystemPrompt = `You extract contact details from a spoken voice note.
Return only JSON of the form:
{"fields": {"phone": "", "email": "", "location": "", "notes": "", "interests": []},
 "tags": [], "groups": [], "lastContactDate": ""}
Leave a field empty when the note does not state it. Never guess.
lastContactDate is an ISO 8601 date when the note says when the speaker last met the person.`

func buildNamesPrompt(transcript string) string {
	var b strings.Builder
	b.WriteString("Voice note transcript:\n\"\"\"\n")
	b.WriteString(transcript)
	b.WriteString("\n\"\"\"\n")
	return b.String()
}

func buildEntitiesPrompt(transcript string, c *contacts.Contact) string {
	var b strings.Builder
	if c != nil {
		b.WriteString("Extract details only about this contact:\n")
		b.WriteString("- name: " + c.FullName() + "\n")
		if c.DisplayName != "" && c.DisplayName != c.FullName() {
			b.WriteString("- also known as: " + c.DisplayName + "\n")
		}
		b.WriteString("Ignore information about anyone else.\n\n")
	} else {
		b.WriteString("Extract details about the person this note is about.\n\n")
	}
	b.WriteString("Voice note transcript:\n\"\"\"\n")
	b.WriteString(transcript)
	b.WriteString("\n\"\"\"\n")
	return b.String()
}
