package outbox

// enrollmentChangedSchema covers both enrollment event types; they share a topic and subject.
const enrollmentChangedSchema = `{
  "type": "object",
  "title": "EnrollmentChanged",
  "properties": {
    "event_id": {"type": "string", "format": "uuid"},
    "activity_name": {"type": "string"},
    "email": {"type": "string"},
    "enrolled_count": {"type": "integer", "minimum": 0},
    "occurred_at": {"type": "string", "format": "date-time"}
  },
  "required": ["event_id", "activity_name", "email", "enrolled_count", "occurred_at"],
  "additionalProperties": false
}`

// SchemaCatalogEntry maps event type to schema definition.
type SchemaCatalogEntry struct {
	Schema string
}

var schemaCatalog = map[string]SchemaCatalogEntry{
	"enrollment.signed_up":    {Schema: enrollmentChangedSchema},
	"enrollment.unregistered": {Schema: enrollmentChangedSchema},
}
