package ports

// PacketHandler receives one raw, loosely-typed packet per device callback.
// The device transport offers no backpressure signal, so handlers must not
// block.
type PacketHandler func(packet map[string]any)

// Collector is the boundary to the device transport (serial, BLE, TCP or a
// replay file). Start registers the handler and begins delivering packets.
type Collector interface {
	Start(handler PacketHandler) error
	Stop() error
}
