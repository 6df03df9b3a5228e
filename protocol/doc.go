// Package protocol implements the parsing and serialising of the payloads
// exchanged with a NetworkTables 4 server.
//
// Two kinds of WebSocket frames travel on a connection:
//
// - text frames carry control messages as JSON
// - binary frames carry topic values as MessagePack
//
// === Control messages
//
// A text frame holds a JSON array of messages (a single bare object is
// accepted too). Every message has the form
//
//	{"method": "<method>", "params": {...}}
//
// Client to server
//
//   - `publish`       {name, pubuid, type, properties}
//   - `unpublish`     {pubuid}
//   - `setproperties` {name, update}
//   - `subscribe`     {subuid, topics, options}
//   - `unsubscribe`   {subuid}
//
// Server to client
//
//   - `announce`      {name, id, type, pubuid?, properties}
//   - `unannounce`    {name, id}
//   - `properties`    {name, ack, update}
//
// Unknown fields are ignored. An unknown method is reported with
// ErrInvalidMessageType.
//
// === Data records
//
// A binary frame holds one or more concatenated MessagePack arrays
//
//	[topic id, timestamp, type code, value]
//
// The timestamp is in microseconds. The type code is the WireCode of the topic
// type and decides the layout of the value. Topic id -1 is reserved for time
// synchronisation: the client sends its own clock as an int value and the
// server echoes it back stamped with the server clock.
//
// === Types
//
// There are fifteen value types but only eleven wire codes: string and json
// share code 4, and raw, rpc, msgpack and protobuf share code 5. The textual
// type in the control channel is the one that matters for a topic; a wire
// code on its own only ever maps back to string or raw.
package protocol
