package replication

// The two painless scripts below encode the idempotence of the pipeline:
// applying a generated action list twice yields the same document state as
// applying it once. They are reproduced verbatim and must not be rewritten.

// AddFieldScript appends field values to a search document. Values for the
// same key accumulate in a list; append-if-absent makes duplicate delivery
// safe. entity_type values live at the top level, everything else under the
// predicates map, which is created on demand.
const AddFieldScript = `void add(def object, def key, def value){
                         if (object[key] != null) {
                            if(!object[key].contains(value)) {
                                object[key].add(value)
                            }
                         }else {
                            object[key] = [value]
                         }
                      }
                      for (predicate in params.predicates){
                          if (predicate["key"]=="entity_type"){
                              add(ctx._source, predicate["key"], predicate["value"])
                          }
                          else {
                              if (ctx._source["predicates"] == null){
                                 ctx._source["predicates"] = new HashMap()
                              }
                              add(ctx._source.predicates, predicate["key"], predicate["value"])
                          }
                      }`

// DropFieldScript removes field values from a search document. Delete only
// if present keeps duplicate requests safe; a predicate key whose value
// list empties is removed, an emptied predicates map is removed, and a
// document reduced to entity_id plus document_type is deleted outright.
const DropFieldScript = `void remove(def object, def key, def value){
                         if (object[key] != null) {
                             object[key].removeIf(x -> x.equals(value));
                             if (object[key].length == 0){
                                object.remove(key)
                             }
                         }
                       }
                       for (predicate in params.predicates){
                           if (predicate["key"]=="entity_type"){
                               remove(ctx._source, predicate["key"], predicate["value"])
                           }
                           else if(ctx._source["predicates"] != null){
                               remove(ctx._source.predicates, predicate["key"], predicate["value"])
                           }
                       }
                       if (ctx._source["predicates"] != null && ctx._source.predicates.size() == 0){
                           ctx._source.remove("predicates")
                       }
                       if(ctx._source.size() == 2){
                           ctx.op = "delete"
                       }else{
                           ctx.op = "index"
                       }`
