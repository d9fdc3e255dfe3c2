// Package tunnel defines the wire frames of the tunnel line protocol: the
// minimal JSON framing spoken by external bridge processes that participate
// in the gateway as nodes without implementing the native client protocol.
//
// The peer-to-gateway frame set is closed: register, event, response, ping,
// pong. The gateway-to-peer set adds command and registered. Decode returns
// one of the concrete frame types; dispatching on the result with a type
// switch plus a default arm covers the "unhandled variant" case, and
// Decode itself rejects unknown type tags with ErrUnknownFrameType.
package tunnel
