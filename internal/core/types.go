// Package core defines core types.
package core

// Channel names a logical output of the datapath host. Sinks receive packets
// tagged with the channel they were routed to.
type Channel string

const (
	ChannelForward     Channel = "forward"
	ChannelEcho        Channel = "echo"
	ChannelTTLExpired  Channel = "ttl-expired"
	ChannelFragment    Channel = "fragment"
	ChannelOptionError Channel = "option-error"
	ChannelICMPError   Channel = "icmp-error"
)

// Channels lists every channel in routing order.
var Channels = []Channel{
	ChannelForward,
	ChannelEcho,
	ChannelTTLExpired,
	ChannelFragment,
	ChannelOptionError,
	ChannelICMPError,
}
