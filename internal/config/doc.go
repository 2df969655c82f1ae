// Package config loads the kestrel configuration file.
//
// The file is YAML. Every key is optional; missing keys take the defaults
// New returns.
//
// # Configuration File Structure
//
//	socket: wayland-1
//	privileged_socket: wayland-1.jay
//	runtime_dir: /run/user/1000
//	log:
//	  file: /run/user/1000/kestrel.log
//	  level: info
//	  stderr: false
//	diag:
//	  address: 127.0.0.1:9190
//	  websocket: true
//	limits:
//	  max_message_size: 4096
//	  max_output_buffer: 4194304
//	  max_clients: 64
//	seat:
//	  name: seat0
//	outputs:
//	  - name: HDMI-A-1
//	    make: ACME
//	    model: Display 27
//	    width: 2560
//	    height: 1440
//	    refresh: 144000
//	    scale: 1
//
// Values are checked by Validate, which reports the file position of the
// offending key when the config came from a file.
package config
