// Package reskit is a reservoir computing toolkit. It provides stateful
// nodes (reservoirs, echo state networks, nonlinear vector autoregressions,
// trainable linear readouts), operators to compose them into models, and a
// model engine that validates the resulting graph and schedules it
// deterministically.
//
// Data flows as gonum dense matrices with one row per time step and one
// column per feature. Nodes keep their latest output as a state vector, so
// sequences can be streamed through a model chunk by chunk.
//
// The typical workflow links a reservoir to a readout, fits the readout by
// ridge regression and runs the model on fresh input:
//
//	res, _ := reskit.NewESN("esn", 100, reskit.WithSpectralRadius(0.9))
//	ridge, _ := reskit.NewRidgeReadout("out", reskit.WithRidge(1e-6))
//	model, _ := reskit.Link(res, ridge)
//	_ = model.Fit(x, y)
//	pred, _ := model.Forward(xTest)
package reskit
