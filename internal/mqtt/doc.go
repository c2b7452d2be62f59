// Package mqtt bridges the assistant onto an MQTT broker so home
// automation can watch it and talk to it. The bridge appears in Home
// Assistant as a device with availability, a busy/idle status sensor,
// the last reply, and daily turn counts. Messages published to the ask
// topic are answered on the reply topic, or on the MQTT v5 response
// topic when the request names one.
//
// Connection management uses Eclipse Paho v2's [autopaho] package. On
// every (re-)connect the bridge publishes retained discovery configs
// and an "online" birth message and re-subscribes to the ask topic. A
// will message flips availability to "offline" on unexpected
// disconnects.
package mqtt
