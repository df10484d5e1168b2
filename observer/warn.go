package observer

import "context"

// Inline warning snippets evaluated on the page. Idempotent: each checks
// for its own marker class before inserting.

const formWarningJS = `(() => {
  document.querySelectorAll('form').forEach(form => {
    if (!form.querySelector('input[type="password"]')) return;
    if (form.querySelector('.pagesentry-warning')) return;
    const warning = document.createElement('div');
    warning.className = 'pagesentry-warning';
    warning.style.cssText = 'background:#ffebee;border:1px solid #f44336;color:#c62828;padding:8px 12px;margin:8px 0;border-radius:4px;font-size:14px;z-index:10000;position:relative;';
    warning.textContent = 'Security warning: this form sends passwords over an unencrypted connection.';
    form.insertBefore(warning, form.firstChild);
  });
})()`

const fieldWarningJS = `(() => {
  document.querySelectorAll('input[type="password"]').forEach(field => {
    const next = field.nextElementSibling;
    if (next && next.className === 'pagesentry-field-warning') return;
    const warning = document.createElement('div');
    warning.className = 'pagesentry-field-warning';
    warning.style.cssText = 'color:#f44336;font-size:12px;margin-top:4px;';
    warning.textContent = 'Insecure connection - password may be intercepted';
    field.parentNode.insertBefore(warning, field.nextSibling);
  });
})()`

// warnForms marks password forms with a visible banner.
func (o *Observer) warnForms(ctx context.Context) {
	if _, err := o.page.Eval(ctx, formWarningJS); err != nil {
		o.logger.Debug("observer: inject form warning", "page", o.page.ID(), "error", err)
	}
}

// warnFields marks password inputs with an inline note.
func (o *Observer) warnFields(ctx context.Context) {
	if _, err := o.page.Eval(ctx, fieldWarningJS); err != nil {
		o.logger.Debug("observer: inject field warning", "page", o.page.ID(), "error", err)
	}
}
