/*
Package transport holds the contracts between the service kit and concrete pub/sub transports.
Adapters implement Transport, Service, Group and Request; the kit only depends on these interfaces.
*/
package transport
