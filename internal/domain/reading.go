package domain

import "time"

// PacketKind classifies a mesh packet by its payload.
type PacketKind string

const (
	KindPosition  PacketKind = "position"
	KindText      PacketKind = "text"
	KindTelemetry PacketKind = "telemetry"
	KindNodeInfo  PacketKind = "nodeinfo"
	KindRaw       PacketKind = "raw"
)

// Reading is the canonical flat record flowing through the pipeline: one
// normalized mesh packet, ready for ingestion. Optional fields are pointers
// so absent values are omitted from the outgoing row instead of being sent
// as nulls. A Reading is never mutated after construction.
type Reading struct {
	Kind       PacketKind `json:"packet_type"`
	ReceivedAt time.Time  `json:"ingested_at"`

	FromID  string `json:"from_id,omitempty"`
	FromNum *int64 `json:"from_num,omitempty"`
	ToID    string `json:"to_id,omitempty"`
	ToNum   *int64 `json:"to_num,omitempty"`
	Channel *int64 `json:"channel,omitempty"`
	PortNum *int64 `json:"portnum,omitempty"`

	// Link quality.
	RxSNR    *float64 `json:"rx_snr,omitempty"`
	RxRSSI   *float64 `json:"rx_rssi,omitempty"`
	HopLimit *int64   `json:"hop_limit,omitempty"`
	HopStart *int64   `json:"hop_start,omitempty"`
	RxTime   *int64   `json:"rx_time,omitempty"`
	WantAck  *bool    `json:"want_ack,omitempty"`

	// Position.
	Latitude      *float64 `json:"latitude,omitempty"`
	Longitude     *float64 `json:"longitude,omitempty"`
	Altitude      *float64 `json:"altitude,omitempty"`
	GroundSpeed   *float64 `json:"ground_speed,omitempty"`
	GroundTrack   *float64 `json:"ground_track,omitempty"`
	SatsInView    *int64   `json:"sats_in_view,omitempty"`
	PDOP          *float64 `json:"pdop,omitempty"`
	HDOP          *float64 `json:"hdop,omitempty"`
	VDOP          *float64 `json:"vdop,omitempty"`
	PrecisionBits *int64   `json:"precision_bits,omitempty"`
	GPSTimestamp  *int64   `json:"gps_timestamp,omitempty"`

	// Text.
	Text string `json:"text_message,omitempty"`

	// Device metrics.
	BatteryLevel       *float64 `json:"battery_level,omitempty"`
	Voltage            *float64 `json:"voltage,omitempty"`
	ChannelUtilization *float64 `json:"channel_utilization,omitempty"`
	AirUtilTx          *float64 `json:"air_util_tx,omitempty"`
	UptimeSeconds      *int64   `json:"uptime_seconds,omitempty"`

	// Environment metrics. TemperatureF is derived from Temperature at
	// normalization time; it never replaces the Celsius source value.
	Temperature        *float64 `json:"temperature,omitempty"`
	TemperatureF       *float64 `json:"temperature_f,omitempty"`
	RelativeHumidity   *float64 `json:"relative_humidity,omitempty"`
	BarometricPressure *float64 `json:"barometric_pressure,omitempty"`
	GasResistance      *float64 `json:"gas_resistance,omitempty"`
	IAQ                *float64 `json:"iaq,omitempty"`
	Lux                *float64 `json:"lux,omitempty"`
	WhiteLux           *float64 `json:"white_lux,omitempty"`
	IRLux              *float64 `json:"ir_lux,omitempty"`
	UVLux              *float64 `json:"uv_lux,omitempty"`
	WindDirection      *float64 `json:"wind_direction,omitempty"`
	WindSpeed          *float64 `json:"wind_speed,omitempty"`
	WindGust           *float64 `json:"wind_gust,omitempty"`
	Weight             *float64 `json:"weight,omitempty"`
	Distance           *float64 `json:"distance,omitempty"`

	// Power metrics.
	Ch1Voltage *float64 `json:"ch1_voltage,omitempty"`
	Ch1Current *float64 `json:"ch1_current,omitempty"`
	Ch2Voltage *float64 `json:"ch2_voltage,omitempty"`
	Ch2Current *float64 `json:"ch2_current,omitempty"`
	Ch3Voltage *float64 `json:"ch3_voltage,omitempty"`
	Ch3Current *float64 `json:"ch3_current,omitempty"`

	// Air quality metrics.
	PM10Standard       *float64 `json:"pm10_standard,omitempty"`
	PM25Standard       *float64 `json:"pm25_standard,omitempty"`
	PM100Standard      *float64 `json:"pm100_standard,omitempty"`
	PM10Environmental  *float64 `json:"pm10_environmental,omitempty"`
	PM25Environmental  *float64 `json:"pm25_environmental,omitempty"`
	PM100Environmental *float64 `json:"pm100_environmental,omitempty"`
	CO2                *float64 `json:"co2,omitempty"`

	// Node info.
	UserID     string `json:"user_id,omitempty"`
	LongName   string `json:"long_name,omitempty"`
	ShortName  string `json:"short_name,omitempty"`
	HWModel    string `json:"hw_model,omitempty"`
	Role       string `json:"role,omitempty"`
	IsLicensed *bool  `json:"is_licensed,omitempty"`

	// RawPacket carries the original nested packet, sanitized for safe
	// serialization, for forward compatibility with downstream consumers.
	RawPacket map[string]any `json:"raw_packet,omitempty"`
}
