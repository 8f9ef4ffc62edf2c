/*
Package servicekit turns plain Go functions into endpoints of request/response services hosted on a
pub/sub transport.

Services and endpoints are declared on an explicit Registry during start-up:

	reg := servicekit.NewRegistry(servicekit.WithLogger(logger))
	calc := servicekit.Declare[Calc](reg, "calc", servicekit.Version("1.2.0"))
	if _, err := calc.Endpoint("add", (*Calc).Add, servicekit.Params("a", "b")); err != nil {
		return err
	}

The argument and result conversion of every endpoint is derived once, at declaration, from the
handler's static parameter and return types. A Runner then dials a transport, builds every declared
service onto it and keeps them alive until its context is cancelled.

Each service has one lazily constructed implementation instance shared by all of its endpoint
invocations. Invocations may run concurrently and the kit applies no locking around that instance
unless the service is declared with Serialized.
*/
package servicekit
