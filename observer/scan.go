package observer

import (
	"context"
	"time"

	"github.com/pagesentry/pagesentry/heuristics"
	"github.com/pagesentry/pagesentry/pagectx"
	"github.com/pagesentry/pagesentry/wire"
)

// scan runs one full analysis pass: serialise the DOM, extract a context
// snapshot, publish it, and raise alerts for what the heuristics find.
// Callers must have cleared the throttle guard first.
func (o *Observer) scan(ctx context.Context) {
	url := o.page.URL()
	html, err := o.page.HTML(ctx)
	if err != nil {
		o.logger.Error("observer: serialise DOM", "page", o.page.ID(), "error", err)
		return
	}

	pc, err := o.extractor.Extract(url, html)
	if err != nil {
		o.logger.Error("observer: extract context", "page", o.page.ID(), "error", err)
		return
	}
	pc.Runtime = o.probeRuntime(ctx)

	o.send(wire.PageContextUpdate{Context: *pc})

	now := time.Now().UTC()

	// Page transport first. One alert per scan pass; the throttle paces it.
	if !pc.Technical.Secure {
		o.send(wire.SecurityAlert{
			Kind:    wire.AlertInsecureProtocol,
			Message: "Page is not served over HTTPS",
			PageURL: url,
			Detail:  pc.Technical.Protocol,
			At:      now,
		})
	}

	// Risky forms get the inline banner only. The insecure_form_submission
	// alert is raised at submission time by handleSubmit, never from a
	// passive scan.
	if o.inlineWarnings {
		for _, form := range pc.Security.Forms {
			if form.Risk == heuristics.RiskHigh {
				o.warnForms(ctx)
				break
			}
		}
	}

	// Suspicious resources. Scripts alert once per visit; everything else
	// re-fires each pass and relies on the throttle.
	for _, f := range pc.Security.Findings {
		if f.Kind == heuristics.FindingScript && !o.guard.firstSight(f.Locator) {
			continue
		}
		o.send(wire.FindingAlert(f, url))
	}
}

// probeRuntime collects cookie and storage counts from the live page.
// Probe failures degrade to a flagged zero value, never a failed scan.
func (o *Observer) probeRuntime(ctx context.Context) pagectx.RuntimeInfo {
	raw, err := o.page.Eval(ctx, pagectx.RuntimeProbeJS)
	if err == nil {
		var ri pagectx.RuntimeInfo
		if ri, err = pagectx.ParseRuntimeProbe(raw); err == nil {
			return ri
		}
	}
	o.logger.Debug("observer: runtime probe failed", "page", o.page.ID(), "error", err)
	return pagectx.RuntimeInfo{ProbeError: err.Error()}
}

// send wraps a payload and publishes it, fire and forget.
func (o *Observer) send(p wire.Payload) {
	o.out.Send(wire.NewEnvelope(p))
}
