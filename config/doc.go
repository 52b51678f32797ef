// Package config resolves the network topology of a helper from its
// configuration file and describes its client and server settings.
//
// A network file lists peers ring by ring:
//
//	[[peers]]
//	url = "https://helper1.example.com:3000"
//	shard_port = 6000
//	certificate = """-----BEGIN CERTIFICATE-----..."""
//
//	[client.http_config]
//	version = "http2"
//	ping_interval_secs = 90
//
// Three peers form one ring. Larger networks are sharded: the k-th group of
// three is the ring of shard k, and each helper reaches its own other shards
// on their shard_port.
package config
