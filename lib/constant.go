package lib

// Flag constants, laid out as in byte 13 of the TCP header
const (
	URGFlag uint8 = 1 << 5
	ACKFlag uint8 = 1 << 4
	PSHFlag uint8 = 1 << 3
	RSTFlag uint8 = 1 << 2
	SYNFlag uint8 = 1 << 1
	FINFlag uint8 = 1 << 0
)

const (
	IpHeaderLength        = 20 //options not included
	IpHeaderMaxLength     = 60
	TcpHeaderLength       = 20 //options not included
	TcpOptionsMaxLength   = 40
	TcpPseudoHeaderLength = 12
	TcpProtocolID         = 6
)

const (
	DefaultMTU           = 1500 // frame buffer size handed to the transport
	DefaultReceiveWindow = 10   // window advertised in every outbound segment
	DefaultTTL           = 30   // time-to-live of outbound IPv4 headers
)
