package headless

// stealthScript runs before any page script and masks the usual
// headless-browser tells: the webdriver flag, empty plugin lists,
// missing chrome runtime, and the automation globals CDP injects.
const stealthScript = `
Object.defineProperty(navigator, 'webdriver', { get: () => undefined });

Object.defineProperty(navigator, 'plugins', {
  get: () => {
    const fake = [
      { name: 'Chrome PDF Plugin', filename: 'internal-pdf-viewer' },
      { name: 'Chrome PDF Viewer', filename: 'mhjfbmdgcfjbbpaeojofohoefgiehjai' },
      { name: 'Native Client', filename: 'internal-nacl-plugin' },
    ];
    fake.item = i => fake[i];
    fake.namedItem = n => fake.find(p => p.name === n) || null;
    return fake;
  },
});

Object.defineProperty(navigator, 'languages', { get: () => ['en-US', 'en'] });

window.chrome = window.chrome || {};
window.chrome.runtime = window.chrome.runtime || {};

const originalQuery = window.navigator.permissions.query.bind(window.navigator.permissions);
window.navigator.permissions.query = (parameters) => (
  parameters.name === 'notifications'
    ? Promise.resolve({ state: Notification.permission })
    : originalQuery(parameters)
);

for (const key of Object.keys(window)) {
  if (key.startsWith('cdc_') || key.startsWith('$cdc_')) {
    try { delete window[key]; } catch (e) {}
  }
}
delete window.__webdriver_evaluate;
delete window.__selenium_evaluate;
delete window.__driver_evaluate;
`
