package learnstore

// DocumentSchema is the JSON Schema every store file must satisfy.
const DocumentSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "additionalProperties": {
    "type": "object",
    "properties": {
      "info": {
        "type": "string",
        "description": "Status text shown to subscribers"
      },
      "subscribers": {
        "type": "array",
        "items": {
          "type": "string"
        },
        "description": "Chat identifiers subscribed to the session"
      }
    }
  }
}`
