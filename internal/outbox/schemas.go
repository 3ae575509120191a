package outbox

const progressLoggedSchema = `{
  "type": "object",
  "title": "ProgressLogged",
  "properties": {
    "record_id": {"type": "string"},
    "owner_id": {"type": "string"},
    "book_id": {"type": "string"},
    "day": {"type": "string", "format": "date"},
    "pages": {"type": "integer"},
    "source": {"type": "string"},
    "logged_at": {"type": "string", "format": "date-time"},
    "version": {"type": "string"}
  },
  "required": ["record_id", "owner_id", "day", "pages", "source", "logged_at", "version"],
  "additionalProperties": false
}`

const streakChangedSchema = `{
  "type": "object",
  "title": "StreakChanged",
  "properties": {
    "owner_id": {"type": "string"},
    "current_streak": {"type": "integer"},
    "previous_streak": {"type": "integer"},
    "longest_streak": {"type": "integer"},
    "total_days_active": {"type": "integer"},
    "last_activity_day": {"type": "string", "format": "date"},
    "occurred_at": {"type": "string", "format": "date-time"},
    "version": {"type": "string"}
  },
  "required": ["owner_id", "current_streak", "longest_streak", "total_days_active", "occurred_at", "version"],
  "additionalProperties": false
}`

// SchemaCatalogEntry maps event type to schema definition.
type SchemaCatalogEntry struct {
	Schema string
}

var schemaCatalog = map[string]SchemaCatalogEntry{
	"reading.progress_logged": {
		Schema: progressLoggedSchema,
	},
	"reading.streak_changed": {
		Schema: streakChangedSchema,
	},
}
