// Package plugin provides JavaScript batch operations.
//
// Plugins are JavaScript files loaded from a directory at startup.
// Each plugin must define:
//   - A @method directive specifying the method name
//   - An execute(args, kwargs) function
//
// execute receives the whole batch: args is the list of positional vectors
// and kwargs maps names to vectors. It must return one result per row.
//
// Example plugin:
//
//	// @method tag
//	function execute(args, kwargs) {
//	    var prefix = kwargs.prefix || [];
//	    return args[0].map(function(word, i) {
//	        return (prefix[i] || "") + word + ":" + utils.keccak256(word).slice(2, 10);
//	    });
//	}
package plugin
