package validators

import "go.mongodb.org/mongo-driver/bson"

// SlotClaimValidator keys claims by slot id, so the primary key enforces one
// open request per slot.
var SlotClaimValidator = bson.M{
	"$jsonSchema": bson.M{
		"bsonType": "object",
		"required": []string{"_id", "request_id", "claimed_at"},
		"properties": bson.M{
			"_id":        bson.M{"bsonType": "string", "minLength": 1},
			"request_id": bson.M{"bsonType": "string", "minLength": 1},
			"claimed_at": bson.M{"bsonType": "date"},
		},
	},
}

var SlotLockValidator = bson.M{
	"$jsonSchema": bson.M{
		"bsonType": "object",
		"required": []string{"_id", "owner", "expires_at"},
		"properties": bson.M{
			"_id":        bson.M{"bsonType": "string", "minLength": 1},
			"owner":      bson.M{"bsonType": "string", "minLength": 1},
			"expires_at": bson.M{"bsonType": "date"},
		},
	},
}
