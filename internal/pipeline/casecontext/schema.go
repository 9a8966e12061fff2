package casecontext

// snapshotSchema is the precondition every Context must satisfy.
const snapshotSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["record"],
  "definitions": {
    "date": {
      "type": ["string", "null"],
      "pattern": "^$|^[0-9]{4}-[0-9]{2}-[0-9]{2}$|^[0-9]{2}/[0-9]{2}/[0-9]{4}$"
    },
    "stringList": {
      "type": ["array", "null"],
      "items": {"type": "string"}
    },
    "session": {
      "type": "object",
      "required": ["date"],
      "properties": {
        "id": {"type": "string"},
        "date": {"$ref": "#/definitions/date"},
        "regionCode": {"type": "string"},
        "timeRange": {"type": "string"}
      }
    }
  },
  "properties": {
    "record": {
      "type": "object",
      "required": ["caseId", "contactName", "status"],
      "properties": {
        "caseId": {"type": "string", "minLength": 1},
        "contactName": {"type": "string", "minLength": 1},
        "status": {"type": "string", "minLength": 1},
        "examDate": {"$ref": "#/definitions/date"},
        "registrationDeadline": {"$ref": "#/definitions/date"},
        "examSessionId": {"type": ["string", "null"]},
        "examSession": {
          "oneOf": [{"type": "null"}, {"$ref": "#/definitions/session"}]
        },
        "regionCode": {"type": ["string", "null"]},
        "documentStatus": {"enum": ["missing", "pending_review", "refused", "complete", "", null]},
        "missingDocuments": {"$ref": "#/definitions/stringList"},
        "refusedDocuments": {"$ref": "#/definitions/stringList"},
        "refusalReason": {"type": ["string", "null"]},
        "paymentStatus": {"enum": ["unpaid", "paid", "", null]},
        "promoEligible": {"type": ["boolean", "null"]},
        "promoFee": {"type": ["string", "number", "null"]},
        "alternativeSessions": {
          "type": ["array", "null"],
          "items": {"$ref": "#/definitions/session"}
        },
        "preferredSession": {"enum": ["morning", "afternoon", "", null]},
        "trainingTimeRange": {"type": ["string", "null"]}
      }
    },
    "externalStatus": {
      "type": ["object", "null"],
      "required": ["status"],
      "properties": {
        "status": {"enum": ["validated", "pending", "refused", "incomplete"]},
        "bookingConfirmed": {"type": "boolean"},
        "examDate": {"$ref": "#/definitions/date"}
      }
    },
    "conversation": {
      "type": ["array", "null"],
      "items": {
        "type": "object",
        "required": ["direction", "body"],
        "properties": {
          "direction": {"enum": ["inbound", "outbound"]},
          "body": {"type": "string"},
          "timestamp": {"type": "string", "format": "date-time"}
        }
      }
    },
    "lastOutboundMessage": {"type": "string"}
  }
}`
