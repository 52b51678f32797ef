// Package main (cmd/helper) runs one MPC helper party.
//
// A helper serves two listeners. The ring port accepts report collectors and
// the other two helpers of its ring; the shard port accepts the other shards of
// the same helper and is only started when --shard-count is above one. Both
// ports share one metrics endpoint.
//
// Peers are listed in a network file. A ring network lists exactly three peers;
// a sharded network lists one ring per shard, in order, and every peer sets
// shard_port:
//
//	[[peers]]
//	url = "https://helper1.example.com:3000"
//	certificate = """
//	-----BEGIN CERTIFICATE-----
//	...
//	"""
//	hpke = { public_key = "a7c1..." }
//
//	[client.http_config]
//	version = "http2"
//	ping_interval_secs = 90
//
// With HTTPS, peers are identified by the certificate they present, which must
// be the one configured for them. With --disable-https every URL is rewritten
// to http:// and peers are identified by the X-Origin header, which is only
// suitable for test networks.
//
// The process shuts down gracefully on SIGINT/SIGTERM, draining for
// --drain-seconds first.
//
// Example usage:
//
//	helper --identity=1 --network=network.toml \
//	    --tls-cert=h1.pem --tls-key=h1.key --ring-port=3000
//
//	helper keygen --name=helper1.example.com --cert-out=h1.pem --key-out=h1.key \
//	    --hpke-pub-out=h1.pub --hpke-key-out=h1.hpke
package main
