package validators

import "go.mongodb.org/mongo-driver/bson"

var ExchangeRequestValidator = bson.M{
	"$jsonSchema": bson.M{
		"bsonType": "object",
		"required": []string{
			"_id",
			"initiator_id",
			"counterparty_id",
			"offered_slot_id",
			"requested_slot_id",
			"status",
			"created_at",
		},
		"additionalProperties": true,

		"properties": bson.M{
			"_id": bson.M{
				"bsonType":  "string",
				"minLength": 1,
			},

			"initiator_id": bson.M{
				"bsonType":  "string",
				"minLength": 1,
			},

			"counterparty_id": bson.M{
				"bsonType":  "string",
				"minLength": 1,
			},

			"offered_slot_id": bson.M{
				"bsonType":  "string",
				"minLength": 1,
			},

			"requested_slot_id": bson.M{
				"bsonType":  "string",
				"minLength": 1,
			},

			"status": bson.M{
				"bsonType": "string",
				"enum": []string{
					"OPEN",
					"ACCEPTED",
					"REJECTED",
				},
			},

			"created_at": bson.M{
				"bsonType": "date",
			},

			"updated_at": bson.M{
				"bsonType": "date",
			},

			"resolved_at": bson.M{
				"bsonType": "date",
			},
		},
	},
}
