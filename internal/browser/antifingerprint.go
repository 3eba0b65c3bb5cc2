package browser

// antiFingerprintScript is injected via Page.AddInitScript on every page
// this pool creates. It masks the automation signals a bot-detection
// script commonly checks: navigator.webdriver undefined, a populated
// plugins array, a realistic languages array, a window.chrome stub, a
// Notification.permission relay through permissions.query, and finally a
// Function.prototype.toString patch so the query patch itself looks
// native. The toString patch must come last so it can also hide itself.
const antiFingerprintScript = `
(() => {
  Object.defineProperty(navigator, 'webdriver', { get: () => undefined });

  Object.defineProperty(navigator, 'plugins', {
    get: () => [
      { name: 'Chrome PDF Plugin', filename: 'internal-pdf-viewer', description: 'Portable Document Format' },
      { name: 'Chrome PDF Viewer', filename: 'mhjfbmdgcfjbbpaeojofohoefgiehjai', description: '' },
      { name: 'Native Client', filename: 'internal-nacl-plugin', description: '' },
    ],
  });

  Object.defineProperty(navigator, 'languages', { get: () => ['en-US', 'en'] });

  window.chrome = window.chrome || { runtime: {}, loadTimes: function () {}, csi: function () {} };

  const originalQuery = window.navigator.permissions.query;
  window.navigator.permissions.query = (parameters) =>
    parameters.name === 'notifications'
      ? Promise.resolve({ state: Notification.permission })
      : originalQuery(parameters);

  const nativeToString = Function.prototype.toString;
  Function.prototype.toString = function () {
    if (this === window.navigator.permissions.query) {
      return 'function query() { [native code] }';
    }
    return nativeToString.call(this);
  };
})();
`
