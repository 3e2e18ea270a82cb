package config

// -----------------------------------------------------------------------------
// Embedded configuration
//
// Key: profile name (same value placed in ctx under CtxProfileKey)
// Val: raw YAML bytes for that profile
// -----------------------------------------------------------------------------

const cfgBench = `
log:
  level: debug
can:
  driver: loopback
store:
  backend: memory
bms:
  box: 0
  sensor: fixed
  fixed_amps: 0
  fixed_volts: 36
monitor:
  period_ms: 500
`

const cfgPack = `
log:
  level: info
can:
  driver: slcan
  device: /dev/ttyACM0
  bitrate: 500000
store:
  backend: file
  path: /var/lib/bmsd/settings.bin
bms:
  box: 0
  sensor: ivt
  open_wire_check: true
  charge_volts: 400
  charge_amps: 10
monitor:
  period_ms: 250
`

var embeddedConfigs = map[string][]byte{
	"bench": []byte(cfgBench),
	"pack":  []byte(cfgPack),
}
