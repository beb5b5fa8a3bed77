// Package reducer applies the actions of a committed event to the session
// store.
//
// StateDelta actions are merged into session state. FinalResponse is a
// structural marker and changes nothing. The remaining action kinds
// (artifact versions, auth requests, agent transfer, escalation) belong to
// collaborators outside the engine: they are forwarded, in order, to the
// Delegate registered for their kind, or logged when no delegate exists.
//
// Example:
//
//	r := reducer.New(func(o *reducer.Options) { o.Logger = logger })
//	r.Register(core.ActionTransferToAgent, reducer.DelegateFunc(
//	    func(ctx context.Context, sessionID string, a core.EventAction) error {
//	        return router.Transfer(ctx, sessionID, a.(core.TransferToAgent).TargetAgent)
//	    }))
//	err := r.Apply(ctx, store, sessionID, ev.Actions)
package reducer
