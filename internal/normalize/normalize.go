// Package normalize converts raw, deeply-nested Meshtastic packets into the
// canonical flat Reading record. It performs no I/O and holds no state.
package normalize

import (
	"strings"
	"time"

	"github.com/tspannhw/SNACKAI-CoCo-Meshtastic/internal/domain"
)

// Meshtastic application port numbers, as sent in decoded.portnum. Vendors
// are inconsistent about setting both the numeric code and the payload key,
// so classification checks the port code first and falls back to key
// presence.
const (
	portText      = 1
	portPosition  = 3
	portNodeInfo  = 4
	portTelemetry = 67
)

// Normalize converts one raw device packet into a Reading. Unparseable or
// empty packets yield nil and are dropped; Normalize never panics and never
// returns an error.
func Normalize(packet map[string]any) *domain.Reading {
	if len(packet) == 0 {
		return nil
	}

	decoded := getMap(packet, "decoded")

	r := &domain.Reading{
		Kind:       classify(decoded),
		ReceivedAt: time.Now().UTC(),
		FromID:     idString(packet, "fromId", "from"),
		FromNum:    getInt(packet, "from"),
		ToID:       idString(packet, "toId", "to"),
		ToNum:      getInt(packet, "to"),
		Channel:    getInt(packet, "channel"),
		PortNum:    getInt(decoded, "portnum"),
		RxSNR:      getFloat(packet, "rxSnr"),
		RxRSSI:     getFloat(packet, "rxRssi"),
		HopLimit:   getInt(packet, "hopLimit"),
		HopStart:   getInt(packet, "hopStart"),
		RxTime:     getInt(packet, "rxTime"),
		WantAck:    getBool(packet, "wantAck"),
	}

	switch r.Kind {
	case domain.KindPosition:
		parsePosition(r, getMap(decoded, "position"))
	case domain.KindText:
		r.Text = getString(decoded, "text")
	case domain.KindTelemetry:
		parseTelemetry(r, getMap(decoded, "telemetry"))
	case domain.KindNodeInfo:
		parseNodeInfo(r, getMap(decoded, "user"))
	}

	if raw, ok := Sanitize(packet).(map[string]any); ok {
		r.RawPacket = raw
	}
	return r
}

// classify derives the packet kind with a fixed priority: position > text >
// telemetry > node-info > raw, first match wins. For each kind the explicit
// port code (numeric or enum-name string) takes precedence over the presence
// of the kind's payload key.
func classify(decoded map[string]any) domain.PacketKind {
	port := getInt(decoded, "portnum")
	name := strings.ToUpper(getString(decoded, "portnum"))

	matches := func(code int64, label, payloadKey string) bool {
		if port != nil && *port == code {
			return true
		}
		if name != "" && strings.Contains(name, label) {
			return true
		}
		_, ok := decoded[payloadKey]
		return ok
	}

	switch {
	case matches(portPosition, "POSITION", "position"):
		return domain.KindPosition
	case matches(portText, "TEXT", "text"):
		return domain.KindText
	case matches(portTelemetry, "TELEMETRY", "telemetry"):
		return domain.KindTelemetry
	case matches(portNodeInfo, "NODEINFO", "user"):
		return domain.KindNodeInfo
	default:
		return domain.KindRaw
	}
}

func parsePosition(r *domain.Reading, pos map[string]any) {
	if len(pos) == 0 {
		return
	}

	// Trackers report either float degrees or fixed-point integers scaled
	// by 1e7; the float field wins when both are present. The /1e7
	// conversion must match existing downstream consumers exactly.
	r.Latitude = getFloat(pos, "latitude")
	if r.Latitude == nil {
		if i := getFloat(pos, "latitudeI"); i != nil && *i != 0 {
			v := *i / 1e7
			r.Latitude = &v
		}
	}
	r.Longitude = getFloat(pos, "longitude")
	if r.Longitude == nil {
		if i := getFloat(pos, "longitudeI"); i != nil && *i != 0 {
			v := *i / 1e7
			r.Longitude = &v
		}
	}

	r.Altitude = getFloat(pos, "altitude")
	r.GroundSpeed = getFloat(pos, "groundSpeed")
	r.GroundTrack = getFloat(pos, "groundTrack")
	r.SatsInView = getInt(pos, "satsInView")
	r.PDOP = getFloat(pos, "PDOP")
	r.HDOP = getFloat(pos, "HDOP")
	r.VDOP = getFloat(pos, "VDOP")
	r.PrecisionBits = getInt(pos, "precisionBits")
	r.GPSTimestamp = getInt(pos, "time")
}

func parseTelemetry(r *domain.Reading, tel map[string]any) {
	if len(tel) == 0 {
		return
	}

	r.GPSTimestamp = getInt(tel, "time")

	device := getMap(tel, "deviceMetrics")
	r.BatteryLevel = getFloat(device, "batteryLevel")
	r.Voltage = getFloat(device, "voltage")
	r.ChannelUtilization = getFloat(device, "channelUtilization")
	r.AirUtilTx = getFloat(device, "airUtilTx")
	r.UptimeSeconds = getInt(device, "uptimeSeconds")

	env := getMap(tel, "environmentMetrics")
	r.Temperature = getFloat(env, "temperature")
	if r.Temperature != nil {
		f := (*r.Temperature * 9 / 5) + 32
		r.TemperatureF = &f
	}
	r.RelativeHumidity = getFloat(env, "relativeHumidity")
	r.BarometricPressure = getFloat(env, "barometricPressure")
	r.GasResistance = getFloat(env, "gasResistance")
	r.IAQ = getFloat(env, "iaq")
	r.Lux = getFloat(env, "lux")
	r.WhiteLux = getFloat(env, "whiteLux")
	r.IRLux = getFloat(env, "irLux")
	r.UVLux = getFloat(env, "uvLux")
	r.WindDirection = getFloat(env, "windDirection")
	r.WindSpeed = getFloat(env, "windSpeed")
	r.WindGust = getFloat(env, "windGust")
	r.Weight = getFloat(env, "weight")
	r.Distance = getFloat(env, "distance")

	power := getMap(tel, "powerMetrics")
	r.Ch1Voltage = getFloat(power, "ch1Voltage")
	r.Ch1Current = getFloat(power, "ch1Current")
	r.Ch2Voltage = getFloat(power, "ch2Voltage")
	r.Ch2Current = getFloat(power, "ch2Current")
	r.Ch3Voltage = getFloat(power, "ch3Voltage")
	r.Ch3Current = getFloat(power, "ch3Current")

	air := getMap(tel, "airQualityMetrics")
	r.PM10Standard = getFloat(air, "pm10Standard")
	r.PM25Standard = getFloat(air, "pm25Standard")
	r.PM100Standard = getFloat(air, "pm100Standard")
	r.PM10Environmental = getFloat(air, "pm10Environmental")
	r.PM25Environmental = getFloat(air, "pm25Environmental")
	r.PM100Environmental = getFloat(air, "pm100Environmental")
	r.CO2 = getFloat(air, "co2")
}

func parseNodeInfo(r *domain.Reading, user map[string]any) {
	if len(user) == 0 {
		return
	}
	r.UserID = getString(user, "id")
	r.LongName = getString(user, "longName")
	r.ShortName = getString(user, "shortName")
	r.HWModel = stringify(user["hwModel"])
	r.Role = stringify(user["role"])
	r.IsLicensed = getBool(user, "isLicensed")
}
