package log

const (
	// Rooms and signaling
	FieldRoomID     = "room_id"
	FieldClientID   = "client_id"
	FieldUserID     = "user_id"
	FieldTeamID     = "team_id"
	FieldTransport  = "transport_id"
	FieldProducerID = "producer_id"
	FieldConsumerID = "consumer_id"

	// Chat pipeline
	FieldEventID = "event_id"
	FieldTopic   = "topic"
	FieldClass   = "class"

	// Service
	FieldService = "service"
)
