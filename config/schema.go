package config

// configSchema is the JSON Schema every config document must satisfy before
// unmarshaling. YAML documents are converted to JSON first, so both formats
// go through it.
const configSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "title": "seismicd configuration",
  "type": "object",
  "required": ["version", "service"],
  "additionalProperties": false,
  "properties": {
    "version": {"type": "string", "minLength": 1},
    "service": {
      "type": "object",
      "required": ["name"],
      "additionalProperties": false,
      "properties": {
        "name": {"type": "string", "minLength": 1},
        "log_level": {"type": "string", "enum": ["debug", "info", "warn", "error"]}
      }
    },
    "metrics": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "enabled": {"type": "boolean"},
        "port": {"type": "integer", "minimum": 1, "maximum": 65535}
      }
    },
    "nats": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "enabled": {"type": "boolean"},
        "url": {"type": "string"},
        "subject": {"type": "string"},
        "token": {"type": "string"}
      }
    },
    "decoder": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "step": {"type": "string"}
      }
    },
    "transports": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "serial": {
          "type": "array",
          "items": {
            "type": "object",
            "required": ["name", "serial"],
            "additionalProperties": false,
            "properties": {
              "name": {"type": "string", "minLength": 1},
              "enabled": {"type": "boolean"},
              "serial": {
                "type": "object",
                "required": ["port_name"],
                "additionalProperties": false,
                "properties": {
                  "port_name": {"type": "string", "minLength": 1},
                  "bit_rate": {"type": "integer", "minimum": 1},
                  "data_bits": {"type": "integer", "minimum": 5, "maximum": 8},
                  "stop_bits": {"type": "integer", "enum": [1, 2]},
                  "parity": {"type": "string", "enum": ["none", "odd", "even", "mark", "space"]},
                  "flow_control": {"type": "string", "enum": ["none"]},
                  "rts_line_state": {"type": "boolean"},
                  "dtr_line_state": {"type": "boolean"}
                }
              }
            }
          }
        },
        "websocket": {
          "type": "array",
          "items": {
            "type": "object",
            "required": ["name", "websocket"],
            "additionalProperties": false,
            "properties": {
              "name": {"type": "string", "minLength": 1},
              "enabled": {"type": "boolean"},
              "websocket": {
                "type": "object",
                "required": ["url"],
                "additionalProperties": false,
                "properties": {
                  "url": {"type": "string", "pattern": "^wss?://"},
                  "handshake_timeout": {"type": "integer", "minimum": 0}
                }
              }
            }
          }
        }
      }
    },
    "simulator": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "enabled": {"type": "boolean"},
        "simulator": {
          "type": "object",
          "additionalProperties": false,
          "properties": {
            "frames_per_second": {"type": "number", "exclusiveMinimum": 0},
            "batch_size": {"type": "integer", "minimum": 1},
            "channels": {"type": "integer", "minimum": 1, "maximum": 3},
            "amplitude": {"type": "number"},
            "with_metadata": {"type": "boolean"},
            "seed": {"type": "integer"}
          }
        }
      }
    }
  }
}`
